package models

import (
	"time"

	"github.com/google/uuid"
)

// Short-lived pairing code issued by an authenticated device
type QRCodeAuth struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	DeviceID  uuid.UUID
	Code      string
	CreatedAt time.Time
	ExpiresAt time.Time
	IsUsed    bool
	UsedAt    *time.Time
}

func (q QRCodeAuth) IsExpired(now time.Time) bool {
	return q.ExpiresAt.Before(now)
}
