package models

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a referenced user or message does not exist.
	ErrNotFound = errors.New("not found")
	// ErrUsernameTaken is returned when a username is already registered.
	ErrUsernameTaken = errors.New("username already taken")
)

// Message is a text message between two users. ReadAt is nil until the
// recipient marks it read.
type Message struct {
	ID           string     `json:"id" db:"id"`
	FromUsername string     `json:"from_username" db:"from_username"`
	ToUsername   string     `json:"to_username" db:"to_username"`
	Body         string     `json:"body" db:"body"`
	SentAt       time.Time  `json:"sent_at" db:"sent_at"`
	ReadAt       *time.Time `json:"read_at" db:"read_at"`

	// Populated by queries that join the users table.
	FromUser *Contact `json:"-"`
	ToUser   *Contact `json:"-"`
}

// IsRead reports whether the recipient has marked the message read.
func (m *Message) IsRead() bool {
	return m.ReadAt != nil
}
