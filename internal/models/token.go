package models

import (
	"time"

	"github.com/google/uuid"
)

type IssuedToken struct {
	Value     string
	ExpiresAt time.Time
}

// Token pair issued by TokenManager
type TokenPair struct {
	Access  IssuedToken
	Refresh IssuedToken
}

// Authenticated caller extracted from access token
// DeviceID is uuid.Nil for sessions started with email and password
type Principal struct {
	UserID   uuid.UUID
	DeviceID uuid.UUID
}

func (p Principal) HasDevice() bool {
	return p.DeviceID != uuid.Nil
}
