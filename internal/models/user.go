package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	RoleUser      = "user"
	RoleAdmin     = "admin"
	RoleModerator = "moderator"
)

type User struct {
	ID             uuid.UUID
	CreatedAt      time.Time
	UpdatedAt      time.Time
	Email          string
	HashedPassword string // empty for users created by device registration
	FirstName      *string
	LastName       *string
	Role           string
	TimeScore      decimal.Decimal
	IsVerified     bool
}

// Users created on first device registration have no password
// They can't log in with email and password
func (u User) HasPassword() bool {
	return u.HashedPassword != ""
}
