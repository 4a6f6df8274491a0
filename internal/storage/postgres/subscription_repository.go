package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/makkenzo/device-licensing-api/internal/domain/subscription"
	"go.uber.org/zap"
)

type SubscriptionRepository struct {
	db     DBTX
	logger *zap.Logger
}

var _ subscription.Repository = (*SubscriptionRepository)(nil)

const subscriptionColumns = `
    id, client_id, company_name, system_name, plan_name, database_name,
    api_key_hash, api_key_prefix, status, max_activations, start_date, end_date,
    created_at, updated_at`

func (r *SubscriptionRepository) Create(ctx context.Context, sub *subscription.Subscription) (uuid.UUID, error) {
	query := `
        INSERT INTO client_subscriptions (
            client_id, company_name, system_name, plan_name, database_name,
            api_key_hash, api_key_prefix, status, max_activations, start_date, end_date
        ) VALUES (
            $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
        ) RETURNING id, created_at, updated_at
    `

	err := r.db.QueryRow(ctx, query,
		sub.ClientID,
		sub.CompanyName,
		sub.SystemName,
		sub.PlanName,
		sub.DatabaseName,
		sub.APIKeyHash,
		sub.APIKeyPrefix,
		sub.Status,
		sub.MaxActivations,
		sub.StartDate,
		sub.EndDate,
	).Scan(&sub.ID, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		if pgErr, ok := isUniqueViolation(err); ok {
			r.logger.Warn("Attempted to create subscription with duplicate API key",
				zap.String("prefix", sub.APIKeyPrefix),
				zap.String("constraint", pgErr.ConstraintName),
			)
			return uuid.Nil, fmt.Errorf("subscription API key with prefix '%s' already exists", sub.APIKeyPrefix)
		}
		r.logger.Error("Failed to create subscription in database", zap.Error(err))
		return uuid.Nil, fmt.Errorf("database error on create subscription: %w", err)
	}

	r.logger.Info("Subscription created", zap.String("id", sub.ID.String()), zap.String("company", sub.CompanyName))
	return sub.ID, nil
}

func (r *SubscriptionRepository) FindByID(ctx context.Context, id uuid.UUID) (*subscription.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM client_subscriptions WHERE id = $1`

	var sub *subscription.Subscription
	err := retryRead(ctx, r.logger, "subscription.find_by_id", func() error {
		var err error
		sub, err = r.scanSubscription(r.db.QueryRow(ctx, query, id))
		return err
	})
	return sub, err
}

func (r *SubscriptionRepository) FindByAPIKeyHash(ctx context.Context, keyHash string) (*subscription.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM client_subscriptions WHERE api_key_hash = $1`

	var sub *subscription.Subscription
	err := retryRead(ctx, r.logger, "subscription.find_by_api_key", func() error {
		var err error
		sub, err = r.scanSubscription(r.db.QueryRow(ctx, query, keyHash))
		return err
	})
	return sub, err
}

func (r *SubscriptionRepository) scanSubscription(row pgx.Row) (*subscription.Subscription, error) {
	var sub subscription.Subscription
	err := row.Scan(
		&sub.ID,
		&sub.ClientID,
		&sub.CompanyName,
		&sub.SystemName,
		&sub.PlanName,
		&sub.DatabaseName,
		&sub.APIKeyHash,
		&sub.APIKeyPrefix,
		&sub.Status,
		&sub.MaxActivations,
		&sub.StartDate,
		&sub.EndDate,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, subscription.ErrNotFound
		}
		r.logger.Error("Failed to scan subscription row", zap.Error(err))
		return nil, fmt.Errorf("database scan error: %w", err)
	}
	return &sub, nil
}
