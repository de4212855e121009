package syncer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTracker(t *testing.T) {
	tr := NewTracker()
	assert.False(t, tr.IsDirty())

	tr.MarkChanged()
	tr.MarkChanged()
	assert.True(t, tr.IsDirty())

	select {
	case <-tr.Changes():
	default:
		t.Fatal("expected a change signal")
	}
	select {
	case <-tr.Changes():
		t.Fatal("signals should coalesce")
	default:
	}

	tr.Clear()
	assert.False(t, tr.IsDirty())
}
