package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/nkiryanov/chronoflow/internal/apperrors"
	"github.com/nkiryanov/chronoflow/internal/models"
)

type DeviceAuthRepo struct {
	DB DBTX
}

const deviceAuthColumns = `id, device_id, user_id, refresh_token, created_at, expires_at, used_at`

const saveDeviceAuth = `-- name: Save device auth
INSERT INTO device_auth (id, device_id, user_id, refresh_token, created_at, expires_at, used_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING ` + deviceAuthColumns

func (r *DeviceAuthRepo) Save(ctx context.Context, a models.DeviceAuth) (models.DeviceAuth, error) {
	rows, _ := r.DB.Query(ctx, saveDeviceAuth, a.ID, a.DeviceID, a.UserID, a.RefreshToken, a.CreatedAt, a.ExpiresAt, a.UsedAt)
	saved, err := pgx.CollectOneRow(rows, rowToDeviceAuth)
	if err != nil {
		return saved, fmt.Errorf("db error: %w", err)
	}
	return saved, nil
}

const getDeviceAuth = `-- name: Get device auth by refresh token
SELECT ` + deviceAuthColumns + `
FROM device_auth
WHERE refresh_token = $1
`

// Get grant
// It should return result even it expired or used already
func (r *DeviceAuthRepo) Get(ctx context.Context, refreshToken string) (models.DeviceAuth, error) {
	rows, _ := r.DB.Query(ctx, getDeviceAuth, refreshToken)
	a, err := pgx.CollectOneRow(rows, rowToDeviceAuth)

	switch {
	case err == nil:
		return a, nil
	case errors.Is(err, pgx.ErrNoRows):
		return a, apperrors.ErrDeviceAuthNotFound
	default:
		return a, fmt.Errorf("db error: %w", err)
	}
}

// CTE keeps the previous 'used_at', so it is possible to know whether this call marked the grant
const getAndMarkUsed = `-- name: Get device auth and mark it used
WITH prev AS (
	SELECT id, used_at FROM device_auth WHERE refresh_token = $1 FOR UPDATE
)
UPDATE device_auth d
SET used_at = COALESCE(d.used_at, $2)
FROM prev
WHERE d.id = prev.id
RETURNING d.id, d.device_id, d.user_id, d.refresh_token, d.created_at, d.expires_at, d.used_at, prev.used_at IS NOT NULL
`

// Mark grant as used
// If grant is used already return it with ErrDeviceAuthIsUsed and keep the first 'used_at'
func (r *DeviceAuthRepo) GetAndMarkUsed(ctx context.Context, refreshToken string) (models.DeviceAuth, error) {
	var usedBefore bool

	rows, _ := r.DB.Query(ctx, getAndMarkUsed, refreshToken, time.Now())
	a, err := pgx.CollectOneRow(rows, func(row pgx.CollectableRow) (models.DeviceAuth, error) {
		var a models.DeviceAuth
		err := row.Scan(&a.ID, &a.DeviceID, &a.UserID, &a.RefreshToken, &a.CreatedAt, &a.ExpiresAt, &a.UsedAt, &usedBefore)
		return a, err
	})

	switch {
	case err == nil && usedBefore:
		return a, apperrors.ErrDeviceAuthIsUsed
	case err == nil:
		return a, nil
	case errors.Is(err, pgx.ErrNoRows):
		return a, apperrors.ErrDeviceAuthNotFound
	default:
		return a, fmt.Errorf("db error: %w", err)
	}
}

const deleteExpiredDeviceAuth = `-- name: Delete expired device auth
DELETE FROM device_auth
WHERE expires_at < $1
`

func (r *DeviceAuthRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.DB.Exec(ctx, deleteExpiredDeviceAuth, before)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return tag.RowsAffected(), nil
}

const deleteDeviceAuthByDevice = `-- name: Delete device auth by device
DELETE FROM device_auth
WHERE device_id = $1
`

func (r *DeviceAuthRepo) DeleteByDevice(ctx context.Context, deviceID uuid.UUID) (int64, error) {
	tag, err := r.DB.Exec(ctx, deleteDeviceAuthByDevice, deviceID)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return tag.RowsAffected(), nil
}

func rowToDeviceAuth(row pgx.CollectableRow) (models.DeviceAuth, error) {
	var a models.DeviceAuth
	err := row.Scan(&a.ID, &a.DeviceID, &a.UserID, &a.RefreshToken, &a.CreatedAt, &a.ExpiresAt, &a.UsedAt)
	return a, err
}
