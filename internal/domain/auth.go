package domain

import "time"

// Credential is the persisted token blob for one account. The store keeps
// it as opaque JSON; only the auth adapter and the credential resolver
// interpret the fields.
type Credential struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
	Scopes       []string  `json:"scopes,omitempty"`
}

func (c Credential) Valid(now time.Time) bool {
	if c.AccessToken == "" {
		return false
	}
	if c.ExpiresAt.IsZero() {
		return true
	}
	return c.ExpiresAt.After(now)
}

func (c Credential) Refreshable() bool {
	return c.RefreshToken != ""
}
