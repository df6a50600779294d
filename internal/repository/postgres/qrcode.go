package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/nkiryanov/chronoflow/internal/apperrors"
	"github.com/nkiryanov/chronoflow/internal/models"
)

type QRCodeRepo struct {
	DB DBTX
}

const qrCodeColumns = `id, user_id, device_id, code, created_at, expires_at, is_used, used_at`

const saveQRCode = `-- name: Save QR code
INSERT INTO qr_code_auth (id, user_id, device_id, code, created_at, expires_at, is_used)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING ` + qrCodeColumns

func (r *QRCodeRepo) Save(ctx context.Context, q models.QRCodeAuth) (models.QRCodeAuth, error) {
	rows, _ := r.DB.Query(ctx, saveQRCode, q.ID, q.UserID, q.DeviceID, q.Code, q.CreatedAt, q.ExpiresAt, q.IsUsed)
	saved, err := pgx.CollectOneRow(rows, rowToQRCode)
	if err != nil {
		return saved, fmt.Errorf("db error: %w", err)
	}
	return saved, nil
}

const getQRCode = `-- name: Get QR code
SELECT ` + qrCodeColumns + `
FROM qr_code_auth
WHERE code = $1
`

func (r *QRCodeRepo) Get(ctx context.Context, code string) (models.QRCodeAuth, error) {
	rows, _ := r.DB.Query(ctx, getQRCode, code)
	return collectQRCode(rows)
}

// Single statement: the row lock taken by UPDATE serializes concurrent redemptions,
// the second one re-evaluates 'is_used' and matches nothing
const consumeQRCode = `-- name: Consume QR code
UPDATE qr_code_auth
SET is_used = TRUE, used_at = $2
WHERE code = $1 AND is_used = FALSE AND expires_at > $2
RETURNING ` + qrCodeColumns

func (r *QRCodeRepo) Consume(ctx context.Context, code string, now time.Time) (models.QRCodeAuth, error) {
	rows, _ := r.DB.Query(ctx, consumeQRCode, code, now)
	return collectQRCode(rows)
}

const deleteExpiredQRCodes = `-- name: Delete expired QR codes
DELETE FROM qr_code_auth
WHERE expires_at < $1
`

func (r *QRCodeRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.DB.Exec(ctx, deleteExpiredQRCodes, before)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return tag.RowsAffected(), nil
}

func collectQRCode(rows pgx.Rows) (models.QRCodeAuth, error) {
	q, err := pgx.CollectOneRow(rows, rowToQRCode)

	switch {
	case err == nil:
		return q, nil
	case errors.Is(err, pgx.ErrNoRows):
		return q, apperrors.ErrQRCodeNotFound
	default:
		return q, fmt.Errorf("db error: %w", err)
	}
}

func rowToQRCode(row pgx.CollectableRow) (models.QRCodeAuth, error) {
	var q models.QRCodeAuth
	err := row.Scan(&q.ID, &q.UserID, &q.DeviceID, &q.Code, &q.CreatedAt, &q.ExpiresAt, &q.IsUsed, &q.UsedAt)
	return q, err
}
