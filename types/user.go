package types

import "time"

// User represents an account in the system.
// It owns recipes, tags and ingredients.
type User struct {
	// ID is the unique identifier of the user.
	ID int `json:"id" db:"id"`

	// Email is the normalized login address. Unique across users.
	Email string `json:"email" db:"email"`

	// Name is the user's display name.
	Name string `json:"name" db:"name"`

	// IsActive reports whether the account may authenticate.
	IsActive bool `json:"is_active" db:"is_active"`

	// IsStaff marks operator accounts.
	IsStaff bool `json:"is_staff" db:"is_staff"`

	// PasswordHash stores the bcrypt hash of the user's password.
	// This field is never exposed in API responses.
	PasswordHash string `json:"-" db:"password_hash"`

	// CreatedAt is the timestamp when the user account was created.
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent update to the user account.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
