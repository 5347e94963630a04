package models

import (
	"time"
)

// User represents a registered account. The username is the primary key.
type User struct {
	Username    string     `json:"username" db:"username"`
	Password    string     `json:"-" db:"password"` // bcrypt hash, never sent to client
	FirstName   string     `json:"first_name" db:"first_name"`
	LastName    string     `json:"last_name" db:"last_name"`
	Phone       string     `json:"phone" db:"phone"`
	JoinedAt    time.Time  `json:"joined_at" db:"joined_at"`
	LastLoginAt *time.Time `json:"last_login_at" db:"last_login_at"`
}

// UserSummary is the public view of a user returned by the user listing.
type UserSummary struct {
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// Contact is the view of a user embedded in message payloads.
type Contact struct {
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Phone     string `json:"phone"`
}

// NewUser holds the fields needed to create a user. Password must already be hashed.
type NewUser struct {
	Username  string
	Password  string
	FirstName string
	LastName  string
	Phone     string
}

// Contact returns the message-embedded view of the user.
func (u *User) Contact() Contact {
	return Contact{
		Username:  u.Username,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Phone:     u.Phone,
	}
}
