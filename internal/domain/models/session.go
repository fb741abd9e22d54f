package models

import "time"

// Session binds the current refresh token to a user.
// Only ID and Email of User are populated when a session is loaded.
type Session struct {
	ID           int64
	RefreshToken string
	User         User
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Grant is returned to the caller after signup, signin and refresh.
type Grant struct {
	AccessToken string
	Session     Session
}
