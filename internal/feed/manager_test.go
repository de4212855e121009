package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pocketledger/ledgersync/internal/domain"
)

func newTestManager(t *testing.T) (*Manager, context.CancelFunc) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	m := NewManager(logger)
	ctx, cancel := context.WithCancel(context.Background())
	go m.Start(ctx)
	t.Cleanup(cancel)
	return m, cancel
}

func receive(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case evt, ok := <-ch:
		require.True(t, ok, "channel closed")
		return evt
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestManager_FiltersByCollection(t *testing.T) {
	m, _ := newTestManager(t)

	expenses, err := m.Subscribe(domain.CollectionExpenses)
	require.NoError(t, err)
	all, err := m.Subscribe("")
	require.NoError(t, err)
	defer m.Unsubscribe(expenses.ID)
	defer m.Unsubscribe(all.ID)

	m.Emit(NewChangeEvent(EventInsert, domain.CollectionCategories, json.RawMessage(`{"id":"c1"}`)))
	m.Emit(NewChangeEvent(EventUpdate, domain.CollectionExpenses, json.RawMessage(`{"id":"e1"}`)))

	got := receive(t, expenses.Events)
	assert.Equal(t, EventUpdate, got.Type)
	assert.JSONEq(t, `{"id":"e1"}`, string(got.Record))

	assert.Equal(t, domain.CollectionCategories, receive(t, all.Events).Collection)
	assert.Equal(t, domain.CollectionExpenses, receive(t, all.Events).Collection)
}

func TestManager_ListenReleasesOnCancel(t *testing.T) {
	m, _ := newTestManager(t)

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := m.Listen(ctx, domain.CollectionGroups)
	require.NoError(t, err)
	assert.Equal(t, 1, m.SubscriberCount())

	cancel()
	require.Eventually(t, func() bool { return m.SubscriberCount() == 0 }, time.Second, 10*time.Millisecond)
	_, open := <-ch
	assert.False(t, open)
}

func TestManager_DropsForSlowSubscriber(t *testing.T) {
	m, _ := newTestManager(t)

	sub, err := m.Subscribe(domain.CollectionExpenses)
	require.NoError(t, err)

	for i := 0; i < cap(sub.Events)+10; i++ {
		m.broadcast(NewChangeEvent(EventInsert, domain.CollectionExpenses, nil))
	}
	assert.Len(t, sub.Events, cap(sub.Events))
}

func TestManager_Shutdown(t *testing.T) {
	m, _ := newTestManager(t)

	sub, err := m.Subscribe("")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, m.Shutdown(ctx))
	require.NoError(t, m.Shutdown(ctx))

	<-sub.Done
	assert.Zero(t, m.SubscriberCount())

	// Emitting after shutdown is a no-op.
	m.Emit(NewChangeEvent(EventDelete, domain.CollectionExpenses, nil))
}

func TestEventWireFormat(t *testing.T) {
	data, err := json.Marshal(NewChangeEvent(EventDelete, domain.CollectionSharedExpenses, json.RawMessage(`{"id":"s1"}`)))
	require.NoError(t, err)
	assert.JSONEq(t, `{"event_type":"delete","collection":"shared_expenses","record":{"id":"s1"}}`, string(data))
}
