package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	DeviceTypeMobile  = "mobile"
	DeviceTypeTablet  = "tablet"
	DeviceTypeDesktop = "desktop"
	DeviceTypeWeb     = "web"
)

// Device fingerprint as reported by the client
// IdentifierForVendor is the stable identifier of the installation
type DeviceInfo struct {
	Name                string `json:"name" validate:"required,max=100"`
	Model               string `json:"model" validate:"required,max=100"`
	Type                string `json:"type,omitempty" validate:"omitempty,oneof=mobile tablet desktop web"`
	SystemName          string `json:"systemName,omitempty" validate:"max=100"`
	SystemVersion       string `json:"systemVersion,omitempty" validate:"max=50"`
	IdentifierForVendor string `json:"identifierForVendor,omitempty" validate:"omitempty,vendorid"`
	Brand               string `json:"brand,omitempty" validate:"max=100"`
	Device              string `json:"device,omitempty" validate:"max=100"`
	Product             string `json:"product,omitempty" validate:"max=100"`
	Version             string `json:"version,omitempty" validate:"max=50"`
	SdkInt              int    `json:"sdkInt,omitempty" validate:"gte=0"`
}

// DeviceType returns type reported by the client or mobile as default
func (i DeviceInfo) DeviceType() string {
	if i.Type == "" {
		return DeviceTypeMobile
	}
	return i.Type
}

type LocationInfo struct {
	Latitude      float64 `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude     float64 `json:"longitude" validate:"gte=-180,lte=180"`
	Accuracy      float64 `json:"accuracy"`
	Altitude      float64 `json:"altitude"`
	Speed         float64 `json:"speed"`
	SpeedAccuracy float64 `json:"speedAccuracy"`
	Heading       float64 `json:"heading"`
	Timestamp     string  `json:"timestamp" validate:"required"`
}

type Device struct {
	ID           uuid.UUID
	UserID       *uuid.UUID // nil until the device is bound to a user
	Info         DeviceInfo
	Location     LocationInfo
	IsPrimary    bool
	LastActiveAt time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Live refresh token grant
type DeviceAuth struct {
	ID           uuid.UUID
	DeviceID     *uuid.UUID // nil for sessions started with email and password
	UserID       uuid.UUID
	RefreshToken string
	CreatedAt    time.Time
	ExpiresAt    time.Time
	UsedAt       *time.Time // set only when strict rotation is enabled
}

func (a DeviceAuth) IsExpired(now time.Time) bool {
	return a.ExpiresAt.Before(now)
}
