package id

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_IsUniqueUUID(t *testing.T) {
	seen := make(map[string]bool)
	for range 500 {
		v := New()
		require.True(t, Valid(v), "not a uuid: %s", v)
		require.False(t, seen[v], "duplicate id %s", v)
		seen[v] = true
	}
}

func TestValid(t *testing.T) {
	assert.True(t, Valid("6f1c2b8e-5d4a-4e3b-9c2d-1a0b9c8d7e6f"))
	assert.False(t, Valid("e1"))
	assert.False(t, Valid(""))
}

func TestGenerate_Prefix(t *testing.T) {
	v, err := Generate("sub")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(v, "sub-"))
	assert.Len(t, v, len("sub-")+21)
}

func TestMustGenerate(t *testing.T) {
	assert.NotPanics(t, func() { MustGenerate("lq") })
}

func TestInviteCode_Alphabet(t *testing.T) {
	for range 100 {
		code, err := InviteCode()
		require.NoError(t, err)
		require.Len(t, code, InviteCodeLength)
		for _, r := range code {
			assert.True(t, strings.ContainsRune(inviteAlphabet, r), "unexpected rune %q in %s", r, code)
		}
	}
}
