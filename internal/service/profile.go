package service

import (
	"context"
	"log/slog"
	"strings"

	"github.com/pocketledger/ledgersync/internal/domain"
	domainerrors "github.com/pocketledger/ledgersync/internal/errors"
	"github.com/pocketledger/ledgersync/internal/normalize"
	"github.com/pocketledger/ledgersync/internal/store/sqlite"
)

// ProfileService manages the local user profile.
type ProfileService struct {
	base
}

// NewProfileService creates a new profile service.
func NewProfileService(st *sqlite.Store, notifier ChangeNotifier, logger *slog.Logger) *ProfileService {
	return &ProfileService{base: newBase(st, notifier, logger)}
}

// ProfileUpdate changes profile fields. Nil fields are left as they are.
type ProfileUpdate struct {
	DisplayName       *string
	AvatarURL         *string
	PreferredLanguage *string
}

// Ensure returns the profile of userID, creating it from the identity
// provider's email on first login.
func (s *ProfileService) Ensure(ctx context.Context, userID, email string) (*domain.User, error) {
	u, err := s.store.Users.Get(ctx, userID)
	if err == nil {
		return u, nil
	}
	if !domainerrors.Is(err, domainerrors.ErrNotFound) {
		return nil, err
	}

	email = strings.ToLower(strings.TrimSpace(email))
	u = &domain.User{
		Syncable:    domain.Syncable{ID: userID},
		Email:       email,
		DisplayName: displayNameFromEmail(email),
	}
	if err := s.validator.Validate(u); err != nil {
		return nil, err
	}
	if err := s.store.Users.Insert(ctx, u); err != nil {
		return nil, err
	}
	s.notifier.OnMutation(ctx)

	s.logger.Info("profile created", "user_id", userID)
	return u, nil
}

// Get returns the profile of userID.
func (s *ProfileService) Get(ctx context.Context, userID string) (*domain.User, error) {
	return s.store.Users.Get(ctx, userID)
}

// Update edits the profile. Language tags and locales are reduced to their
// two-letter code.
func (s *ProfileService) Update(ctx context.Context, userID string, upd ProfileUpdate) (*domain.User, error) {
	var lang string
	if upd.PreferredLanguage != nil && *upd.PreferredLanguage != "" {
		lang = normalize.LanguageCode(*upd.PreferredLanguage)
		if lang == "" {
			return nil, domainerrors.Validationf("unknown language %q", *upd.PreferredLanguage)
		}
	}

	u, err := s.store.Users.Update(ctx, userID, func(u *domain.User) error {
		if upd.DisplayName != nil {
			u.DisplayName = normalize.Name(*upd.DisplayName)
		}
		if upd.AvatarURL != nil {
			u.AvatarURL = strings.TrimSpace(*upd.AvatarURL)
		}
		if upd.PreferredLanguage != nil {
			u.PreferredLanguage = lang
		}
		return s.validator.Validate(u)
	})
	if err != nil {
		return nil, err
	}
	s.notifier.OnMutation(ctx)
	return u, nil
}

func displayNameFromEmail(email string) string {
	local, _, _ := strings.Cut(email, "@")
	return normalize.Name(local)
}
