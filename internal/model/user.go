// Package model defines the data structures used throughout the application.
package model

import "time"

// User represents a registered account.
//
// WHY int64 IDs?
// Recipe list filters take comma-joined id lists (?tags=1,2) and recipes are
// listed newest-first by id, so every entity uses the database's integer
// primary key rather than a generated string ID.
//
// PasswordHash is tagged json:"-" so it can never leak into a response, even
// if a handler renders the struct directly by mistake.
type User struct {
	ID           int64     `json:"id"        db:"id"`
	Email        string    `json:"email"     db:"email"` // always lower-case
	Name         string    `json:"name"      db:"name"`
	PasswordHash string    `json:"-"         db:"password_hash"`
	IsActive     bool      `json:"isActive"  db:"is_active"`
	IsStaff      bool      `json:"isStaff"   db:"is_staff"`
	IsSuperuser  bool      `json:"isSuperuser" db:"is_superuser"`
	CreatedAt    time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time `json:"updatedAt" db:"updated_at"`
}

// UnusablePassword is stored for accounts created without a password (GitHub
// sign-in). It is not a valid bcrypt hash, so no password ever verifies
// against it.
const UnusablePassword = "!"
