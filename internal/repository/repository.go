package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/chronoflow/internal/models"
)

type CreateUserParams struct {
	Email          string
	HashedPassword string
	FirstName      *string
	LastName       *string
	Role           string
	IsVerified     bool
}

// User repository interface
type UserRepo interface {
	// Create user
	// If user with email exists already has to return error apperrors.ErrUserAlreadyExists
	CreateUser(ctx context.Context, params CreateUserParams) (models.User, error)

	// Get user by it's id or email
	// If user not found must return apperrors.ErrUserNotFound
	GetUserByID(ctx context.Context, userID uuid.UUID) (models.User, error)
	GetUserByEmail(ctx context.Context, email string) (models.User, error)
}

type CreateDeviceParams struct {
	UserID    *uuid.UUID
	Info      models.DeviceInfo
	Location  models.LocationInfo
	IsPrimary bool
}

// Device repository interface
type DeviceRepo interface {
	// Create device
	// If device with the same vendor identifier exists has to return apperrors.ErrDeviceAlreadyExists
	CreateDevice(ctx context.Context, params CreateDeviceParams) (models.Device, error)

	// Get device
	// If device not found must return apperrors.ErrDeviceNotFound
	GetDeviceByID(ctx context.Context, deviceID uuid.UUID) (models.Device, error)
	GetDeviceByVendorID(ctx context.Context, vendorID string) (models.Device, error)

	// Refresh device info, location and last_active_at
	// Location is kept as is if nil passed
	TouchDevice(ctx context.Context, deviceID uuid.UUID, info models.DeviceInfo, location *models.LocationInfo) (models.Device, error)

	// Move device to another user as its secondary device, info and location are refreshed
	// If device not found must return apperrors.ErrDeviceNotFound
	BindDevice(ctx context.Context, deviceID uuid.UUID, userID uuid.UUID, info models.DeviceInfo, location models.LocationInfo) (models.Device, error)
}

// Refresh token grants
type DeviceAuthRepo interface {
	Save(ctx context.Context, auth models.DeviceAuth) (models.DeviceAuth, error)

	// Get grant even if it expired or used already
	// If not found must return apperrors.ErrDeviceAuthNotFound
	Get(ctx context.Context, refreshToken string) (models.DeviceAuth, error)

	// Get grant and mark it used
	// If the grant is already used must return it with apperrors.ErrDeviceAuthIsUsed and must not overwrite 'used_at'
	GetAndMarkUsed(ctx context.Context, refreshToken string) (models.DeviceAuth, error)

	// Delete grants expired before the time, return count of deleted rows
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)

	// Delete every grant issued for the device, return count of deleted rows
	DeleteByDevice(ctx context.Context, deviceID uuid.UUID) (int64, error)
}

type QRCodeRepo interface {
	Save(ctx context.Context, code models.QRCodeAuth) (models.QRCodeAuth, error)

	// Get code even if it expired or used already
	// If not found must return apperrors.ErrQRCodeNotFound
	Get(ctx context.Context, code string) (models.QRCodeAuth, error)

	// Mark code used only if it is unused and not expired at 'now'
	// Concurrent callers race on the same row: exactly one wins, others get apperrors.ErrQRCodeNotFound
	Consume(ctx context.Context, code string, now time.Time) (models.QRCodeAuth, error)

	// Delete codes expired before the time, return count of deleted rows
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

type Storage interface {
	User() UserRepo
	Device() DeviceRepo
	DeviceAuth() DeviceAuthRepo
	QRCode() QRCodeRepo

	// Run fn within transaction
	// Commit if fn returns nil, rollback otherwise
	InTx(ctx context.Context, fn func(Storage) error) error
}
