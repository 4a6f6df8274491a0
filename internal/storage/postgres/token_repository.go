package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/makkenzo/device-licensing-api/internal/domain/token"
	"go.uber.org/zap"
)

type TokenRepository struct {
	db     DBTX
	logger *zap.Logger
}

var _ token.Repository = (*TokenRepository)(nil)

func (r *TokenRepository) Create(ctx context.Context, t *token.LicenseToken) (uuid.UUID, error) {
	query := `
        INSERT INTO license_tokens (subscription_id, device_fingerprint, token, expires_at)
        VALUES ($1, $2, $3, $4)
        RETURNING id, created_at
    `

	err := r.db.QueryRow(ctx, query, t.SubscriptionID, t.Fingerprint, t.Token, t.ExpiresAt).Scan(&t.ID, &t.CreatedAt)
	if err != nil {
		r.logger.Error("Failed to persist license token",
			zap.String("subscription_id", t.SubscriptionID.String()),
			zap.String("fingerprint", t.Fingerprint),
			zap.Error(err),
		)
		return uuid.Nil, fmt.Errorf("database error on create license token: %w", err)
	}
	return t.ID, nil
}

func (r *TokenRepository) DeleteExpiredBefore(ctx context.Context, before time.Time) (int64, error) {
	cmdTag, err := r.db.Exec(ctx, `DELETE FROM license_tokens WHERE expires_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("database error on purge license tokens: %w", err)
	}
	return cmdTag.RowsAffected(), nil
}
