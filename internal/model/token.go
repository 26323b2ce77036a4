package model

import "time"

// AuthToken binds an opaque bearer key to exactly one user.
// The user_id column is UNIQUE: issuing a new token replaces the old one.
type AuthToken struct {
	Key       string    `db:"token"`
	UserID    int64     `db:"user_id"`
	CreatedAt time.Time `db:"created_at"`
}
