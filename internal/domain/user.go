// Package domain contains identifiers and wire shapes shared by the
// server-side session layer and the client-side call package.
package domain

import "errors"

const MaxDisplayNameLen = 64

var (
	ErrDisplayNameTooLong = errors.New("display name too long")
	ErrDisplayNameEmpty   = errors.New("display name empty")
)

type UserID string

type User struct {
	ID          UserID `json:"id"`
	DisplayName string `json:"displayName"`
}

// NewUser avoids ad-hoc struct literals in adapters and validates the name.
func NewUser(id UserID, displayName string) (*User, error) {
	if displayName == "" {
		return nil, ErrDisplayNameEmpty
	}
	if len(displayName) > MaxDisplayNameLen {
		return nil, ErrDisplayNameTooLong
	}
	return &User{ID: id, DisplayName: displayName}, nil
}
