package model

import "time"

// OAuth2Credential stores platform OAuth credentials per connected account.
type OAuth2Credential struct {
	ID                    int64      `json:"id"`
	AccountID             string     `json:"account_id"`
	Platform              string     `json:"platform"`
	AccessToken           string     `json:"access_token"`
	RefreshToken          string     `json:"refresh_token"`
	AccessTokenExpiresAt  *time.Time `json:"access_token_expires_at,omitempty"`
	RefreshTokenExpiresAt *time.Time `json:"refresh_token_expires_at,omitempty"`
	Scopes                string     `json:"scopes"`
	TokenType             string     `json:"token_type,omitempty"`
	Raw                   []byte     `json:"-"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// IsExpired is true when the refresh token has a deadline that passed, or when there is no
// refresh deadline and the access token itself has expired. An expired credential needs the
// account to re-authorize.
func (c *OAuth2Credential) IsExpired(now time.Time) bool {
	if c.RefreshTokenExpiresAt != nil {
		return !now.Before(*c.RefreshTokenExpiresAt)
	}
	if c.AccessTokenExpiresAt != nil {
		return !now.Before(*c.AccessTokenExpiresAt)
	}
	return false
}

// NeedsRefresh reports whether the access token expires within window and can still be refreshed.
func (c *OAuth2Credential) NeedsRefresh(now time.Time, window time.Duration) bool {
	if c.RefreshToken == "" || c.IsExpired(now) {
		return false
	}
	if c.AccessTokenExpiresAt == nil {
		return false
	}
	return now.Add(window).After(*c.AccessTokenExpiresAt)
}
