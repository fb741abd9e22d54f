package models

import "time"

// Claims is the identity asserted by a verified token.
type Claims struct {
	UserID    int64
	Email     string
	ExpiresAt time.Time
}

// TokenPair is never persisted; the refresh half is copied into the session row.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}
