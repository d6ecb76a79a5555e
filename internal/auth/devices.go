package auth

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// ErrRefreshRevoked is returned when a refresh token is unknown, expired or revoked.
var ErrRefreshRevoked = errors.New("refresh token revoked or expired")

// DeviceRepository stores registered kiosks and their refresh tokens.
type DeviceRepository struct {
	db *sql.DB
}

// NewDeviceRepository creates a repo.
func NewDeviceRepository(db *sql.DB) *DeviceRepository {
	return &DeviceRepository{db: db}
}

// UpsertDevice ensures a device record exists.
func (r *DeviceRepository) UpsertDevice(ctx context.Context, deviceID string) error {
	if deviceID == "" {
		return errors.New("device id required")
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO devices (device_id)
		VALUES ($1)
		ON CONFLICT (device_id) DO NOTHING
	`, deviceID)
	return err
}

// SaveRefreshToken stores a refresh token for rotation checks.
func (r *DeviceRepository) SaveRefreshToken(ctx context.Context, deviceID, token string, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO refresh_tokens (device_id, token, expires_at)
		VALUES ($1, $2, $3)
	`, deviceID, token, expiresAt)
	return err
}

// RotateRefreshToken revokes token and returns the device it belonged to.
func (r *DeviceRepository) RotateRefreshToken(ctx context.Context, token string) (string, error) {
	var deviceID string
	err := r.db.QueryRowContext(ctx, `
		UPDATE refresh_tokens SET revoked = TRUE
		WHERE token = $1 AND NOT revoked AND expires_at > NOW()
		RETURNING device_id
	`, token).Scan(&deviceID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrRefreshRevoked
	}
	return deviceID, err
}
