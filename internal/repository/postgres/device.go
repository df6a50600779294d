package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/nkiryanov/chronoflow/internal/apperrors"
	"github.com/nkiryanov/chronoflow/internal/models"
	"github.com/nkiryanov/chronoflow/internal/repository"
)

type DeviceRepo struct {
	DB DBTX
}

const deviceColumns = `id, user_id, device_info, location_info, is_primary, last_active_at, created_at, updated_at`

const createDevice = `-- name: CreateDevice
INSERT INTO devices (id, user_id, device_info, location_info, vendor_id, is_primary)
VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6)
RETURNING ` + deviceColumns

func (r *DeviceRepo) CreateDevice(ctx context.Context, params repository.CreateDeviceParams) (models.Device, error) {
	rows, _ := r.DB.Query(ctx, createDevice,
		uuid.New(),
		params.UserID,
		params.Info,
		params.Location,
		params.Info.IdentifierForVendor,
		params.IsPrimary,
	)
	device, err := pgx.CollectOneRow(rows, rowToDevice)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return device, apperrors.ErrDeviceAlreadyExists
		}

		return device, fmt.Errorf("db error: %w", err)
	}

	return device, nil
}

const getDeviceByID = `-- name: GetDeviceByID
SELECT ` + deviceColumns + ` FROM devices
WHERE id = $1
`

func (r *DeviceRepo) GetDeviceByID(ctx context.Context, deviceID uuid.UUID) (models.Device, error) {
	rows, _ := r.DB.Query(ctx, getDeviceByID, deviceID)
	return collectDevice(rows)
}

const getDeviceByVendorID = `-- name: GetDeviceByVendorID
SELECT ` + deviceColumns + ` FROM devices
WHERE vendor_id = $1
`

func (r *DeviceRepo) GetDeviceByVendorID(ctx context.Context, vendorID string) (models.Device, error) {
	rows, _ := r.DB.Query(ctx, getDeviceByVendorID, vendorID)
	return collectDevice(rows)
}

const touchDevice = `-- name: TouchDevice
UPDATE devices
SET device_info = $2,
    location_info = COALESCE($3, location_info),
    last_active_at = NOW(),
    updated_at = NOW()
WHERE id = $1
RETURNING ` + deviceColumns

func (r *DeviceRepo) TouchDevice(ctx context.Context, deviceID uuid.UUID, info models.DeviceInfo, location *models.LocationInfo) (models.Device, error) {
	rows, _ := r.DB.Query(ctx, touchDevice, deviceID, info, location)
	return collectDevice(rows)
}

const bindDevice = `-- name: BindDevice
UPDATE devices
SET user_id = $2,
    is_primary = FALSE,
    device_info = $3,
    location_info = $4,
    last_active_at = NOW(),
    updated_at = NOW()
WHERE id = $1
RETURNING ` + deviceColumns

func (r *DeviceRepo) BindDevice(ctx context.Context, deviceID uuid.UUID, userID uuid.UUID, info models.DeviceInfo, location models.LocationInfo) (models.Device, error) {
	rows, _ := r.DB.Query(ctx, bindDevice, deviceID, userID, info, location)
	return collectDevice(rows)
}

func collectDevice(rows pgx.Rows) (models.Device, error) {
	device, err := pgx.CollectOneRow(rows, rowToDevice)

	switch {
	case err == nil:
		return device, nil
	case errors.Is(err, pgx.ErrNoRows):
		return device, apperrors.ErrDeviceNotFound
	default:
		return device, fmt.Errorf("db error: %w", err)
	}
}

func rowToDevice(row pgx.CollectableRow) (models.Device, error) {
	var d models.Device
	err := row.Scan(
		&d.ID,
		&d.UserID,
		&d.Info,
		&d.Location,
		&d.IsPrimary,
		&d.LastActiveAt,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	return d, err
}
