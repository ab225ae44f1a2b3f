package models

import "time"

// Session is a persisted "remember me" session. Only the keyed hash of the
// bearer token is stored.
type Session struct {
	ID        string
	UserID    string
	TenantID  string
	TokenHash string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// PasswordReset is one issued reset token. UsedAt is set exactly once.
type PasswordReset struct {
	ID        int64
	UserID    string
	Email     string
	TokenHash string
	ExpiresAt time.Time
	UsedAt    *time.Time
	RequestIP string
	RequestUA string
	CreatedAt time.Time
}

// Active reports whether the reset can still be consumed at now.
func (r *PasswordReset) Active(now time.Time) bool {
	return r.UsedAt == nil && r.ExpiresAt.After(now)
}

// LoginFailures is the persisted failure counter for one normalized email.
type LoginFailures struct {
	Email     string
	FailCount int
	LastFail  time.Time
}
