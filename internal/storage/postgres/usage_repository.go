package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/makkenzo/device-licensing-api/internal/domain/usage"
	"go.uber.org/zap"
)

type UsageRepository struct {
	db     DBTX
	logger *zap.Logger
}

var _ usage.Repository = (*UsageRepository)(nil)

func (r *UsageRepository) Create(ctx context.Context, e *usage.Entry) (uuid.UUID, error) {
	query := `
        INSERT INTO api_usage_logs (
            subscription_id, api_key_hash, endpoint, method, ip_address,
            user_agent, device_fingerprint, request_timestamp
        ) VALUES (
            $1, $2, $3, $4, $5, $6, $7, $8
        ) RETURNING id
    `

	err := r.db.QueryRow(ctx, query,
		e.SubscriptionID,
		e.APIKeyHash,
		e.Endpoint,
		e.Method,
		e.IPAddress,
		e.UserAgent,
		e.Fingerprint,
		e.RequestedAt,
	).Scan(&e.ID)
	if err != nil {
		r.logger.Error("Failed to record API usage", zap.String("subscription_id", e.SubscriptionID.String()), zap.Error(err))
		return uuid.Nil, fmt.Errorf("database error on create usage log: %w", err)
	}
	return e.ID, nil
}

func (r *UsageRepository) FindRecentOtherDevice(ctx context.Context, apiKeyHash, fingerprint string, since time.Time) (*usage.Entry, error) {
	query := `
        SELECT id, subscription_id, api_key_hash, endpoint, method, ip_address,
               user_agent, device_fingerprint, request_timestamp
        FROM api_usage_logs
        WHERE api_key_hash = $1
          AND device_fingerprint <> ''
          AND device_fingerprint <> $2
          AND request_timestamp > $3
        ORDER BY request_timestamp DESC
        LIMIT 1
    `

	var found *usage.Entry
	err := retryRead(ctx, r.logger, "usage.find_recent_other_device", func() error {
		var e usage.Entry
		err := r.db.QueryRow(ctx, query, apiKeyHash, fingerprint, since).Scan(
			&e.ID,
			&e.SubscriptionID,
			&e.APIKeyHash,
			&e.Endpoint,
			&e.Method,
			&e.IPAddress,
			&e.UserAgent,
			&e.Fingerprint,
			&e.RequestedAt,
		)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				found = nil
				return nil
			}
			return err
		}
		found = &e
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("database error on recent usage lookup: %w", err)
	}
	return found, nil
}

func (r *UsageRepository) Stats(ctx context.Context, subscriptionID uuid.UUID) (*usage.Stats, error) {
	query := `
        SELECT COUNT(*),
               COUNT(DISTINCT ip_address),
               COUNT(DISTINCT (request_timestamp AT TIME ZONE 'UTC')::date),
               MAX(request_timestamp)
        FROM api_usage_logs
        WHERE subscription_id = $1
    `

	var stats usage.Stats
	err := retryRead(ctx, r.logger, "usage.stats", func() error {
		stats = usage.Stats{}
		return r.db.QueryRow(ctx, query, subscriptionID).Scan(
			&stats.TotalRequests,
			&stats.UniqueIPs,
			&stats.ActiveDays,
			&stats.LastRequest,
		)
	})
	if err != nil {
		return nil, fmt.Errorf("database error on usage stats: %w", err)
	}
	return &stats, nil
}

func (r *UsageRepository) ListRecent(ctx context.Context, subscriptionID uuid.UUID, limit int) ([]*usage.Entry, error) {
	if limit <= 0 || limit > usage.MaxRecentLimit {
		limit = usage.MaxRecentLimit
	}

	query := `
        SELECT id, subscription_id, api_key_hash, endpoint, method, ip_address,
               user_agent, device_fingerprint, request_timestamp
        FROM api_usage_logs
        WHERE subscription_id = $1
        ORDER BY request_timestamp DESC
        LIMIT $2
    `

	var entries []*usage.Entry
	err := retryRead(ctx, r.logger, "usage.list_recent", func() error {
		rows, err := r.db.Query(ctx, query, subscriptionID, limit)
		if err != nil {
			return err
		}
		defer rows.Close()

		entries = make([]*usage.Entry, 0, limit)
		for rows.Next() {
			var e usage.Entry
			if err := rows.Scan(
				&e.ID,
				&e.SubscriptionID,
				&e.APIKeyHash,
				&e.Endpoint,
				&e.Method,
				&e.IPAddress,
				&e.UserAgent,
				&e.Fingerprint,
				&e.RequestedAt,
			); err != nil {
				return err
			}
			entries = append(entries, &e)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("database error on recent usage list: %w", err)
	}
	return entries, nil
}

func (r *UsageRepository) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	cmdTag, err := r.db.Exec(ctx, `DELETE FROM api_usage_logs WHERE request_timestamp < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("database error on purge usage logs: %w", err)
	}
	return cmdTag.RowsAffected(), nil
}
