package domain

// User is the local profile of an authenticated account. The id is the stable
// identifier supplied by the authentication provider.
type User struct {
	Syncable
	Email             string `json:"email" validate:"required,email"`
	DisplayName       string `json:"display_name" validate:"max=80"`
	AvatarURL         string `json:"avatar_url,omitempty" validate:"omitempty,url"`
	PreferredLanguage string `json:"preferred_language,omitempty" validate:"omitempty,len=2"`
}

// Scope implements Record.
func (u *User) Scope() Scope {
	return Scope{OwnerID: u.ID}
}
