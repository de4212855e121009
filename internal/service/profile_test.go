package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainerrors "github.com/pocketledger/ledgersync/internal/errors"
)

func ptr[T any](v T) *T { return &v }

func TestProfile_Ensure(t *testing.T) {
	ts := setupServices(t)
	ctx := context.Background()

	u, err := ts.profiles.Ensure(ctx, "u1", " Ada.Lovelace@Example.com ")
	require.NoError(t, err)
	assert.Equal(t, "ada.lovelace@example.com", u.Email)
	assert.Equal(t, "ada.lovelace", u.DisplayName)

	again, err := ts.profiles.Ensure(ctx, "u1", "other@example.com")
	require.NoError(t, err)
	assert.Equal(t, u.Email, again.Email)
	assert.EqualValues(t, 1, ts.notifier.calls.Load())

	_, err = ts.profiles.Ensure(ctx, "u2", "not-an-email")
	assert.ErrorIs(t, err, domainerrors.ErrValidation)
}

func TestProfile_Update(t *testing.T) {
	ts := setupServices(t)
	ctx := context.Background()
	_, err := ts.profiles.Ensure(ctx, "u1", "ada@example.com")
	require.NoError(t, err)

	u, err := ts.profiles.Update(ctx, "u1", ProfileUpdate{
		DisplayName:       ptr("  Ada   Lovelace "),
		PreferredLanguage: ptr("pt_BR"),
	})
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", u.DisplayName)
	assert.Equal(t, "pt", u.PreferredLanguage)

	_, err = ts.profiles.Update(ctx, "u1", ProfileUpdate{PreferredLanguage: ptr("klingon!")})
	assert.ErrorIs(t, err, domainerrors.ErrValidation)

	_, err = ts.profiles.Update(ctx, "u1", ProfileUpdate{AvatarURL: ptr("not a url")})
	assert.ErrorIs(t, err, domainerrors.ErrValidation)

	_, err = ts.profiles.Update(ctx, "missing", ProfileUpdate{DisplayName: ptr("x")})
	assert.ErrorIs(t, err, domainerrors.ErrNotFound)
}
