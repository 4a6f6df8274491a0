package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/makkenzo/device-licensing-api/internal/domain/alert"
	"go.uber.org/zap"
)

type AlertRepository struct {
	db     DBTX
	logger *zap.Logger
}

var _ alert.Repository = (*AlertRepository)(nil)

const alertColumns = `
    a.id, a.subscription_id, a.alert_type, a.severity, a.details, a.device_fingerprint,
    a.ip_address, a.status, a.reviewed_by, a.reviewed_at, a.action_taken, a.resolution_notes,
    a.created_at, s.company_name, s.system_name`

func (r *AlertRepository) Create(ctx context.Context, a *alert.Alert) (uuid.UUID, error) {
	if a.Status == "" {
		a.Status = alert.StatusOpen
	}

	query := `
        INSERT INTO security_alerts (
            subscription_id, alert_type, severity, details, device_fingerprint, ip_address, status
        ) VALUES (
            $1, $2, $3, $4, $5, $6, $7
        ) RETURNING id, created_at
    `

	details := a.Details
	if len(details) == 0 {
		details = []byte("{}")
	}

	err := r.db.QueryRow(ctx, query,
		a.SubscriptionID,
		a.Type,
		a.Severity,
		string(details),
		a.Fingerprint,
		a.IPAddress,
		a.Status,
	).Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		r.logger.Error("Failed to create security alert",
			zap.String("subscription_id", a.SubscriptionID.String()),
			zap.String("alert_type", string(a.Type)),
			zap.Error(err),
		)
		return uuid.Nil, fmt.Errorf("database error on create security alert: %w", err)
	}

	r.logger.Info("Security alert recorded",
		zap.String("id", a.ID.String()),
		zap.String("alert_type", string(a.Type)),
		zap.String("severity", string(a.Severity)),
	)
	return a.ID, nil
}

func (r *AlertRepository) FindByID(ctx context.Context, id uuid.UUID) (*alert.Alert, error) {
	query := `
        SELECT ` + alertColumns + `
        FROM security_alerts a
        JOIN client_subscriptions s ON s.id = a.subscription_id
        WHERE a.id = $1
    `

	var a *alert.Alert
	err := retryRead(ctx, r.logger, "alert.find_by_id", func() error {
		var err error
		a, err = r.scanAlert(r.db.QueryRow(ctx, query, id))
		return err
	})
	return a, err
}

func (r *AlertRepository) List(ctx context.Context, filter alert.Filter) ([]*alert.Alert, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if filter.SubscriptionID != nil {
		add("a.subscription_id = $%d", *filter.SubscriptionID)
	}
	if filter.Status != nil {
		add("a.status = $%d", string(*filter.Status))
	}
	if filter.Severity != nil {
		add("a.severity = $%d", string(*filter.Severity))
	}
	if filter.Type != nil {
		add("a.alert_type = $%d", string(*filter.Type))
	}

	limit := filter.Limit
	if limit <= 0 || limit > alert.MaxListLimit {
		limit = alert.MaxListLimit
	}
	args = append(args, limit)

	var sb strings.Builder
	sb.WriteString(`SELECT ` + alertColumns + `
        FROM security_alerts a
        JOIN client_subscriptions s ON s.id = a.subscription_id`)
	if len(conds) > 0 {
		sb.WriteString("\n        WHERE ")
		sb.WriteString(strings.Join(conds, " AND "))
	}
	fmt.Fprintf(&sb, "\n        ORDER BY a.created_at DESC\n        LIMIT $%d", len(args))
	query := sb.String()

	var list []*alert.Alert
	err := retryRead(ctx, r.logger, "alert.list", func() error {
		rows, err := r.db.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		list = make([]*alert.Alert, 0)
		for rows.Next() {
			a, err := r.scanAlert(rows)
			if err != nil {
				return err
			}
			list = append(list, a)
		}
		return rows.Err()
	})
	if err != nil {
		r.logger.Error("Failed to list security alerts", zap.Error(err))
		return nil, fmt.Errorf("database error on list security alerts: %w", err)
	}
	return list, nil
}

func (r *AlertRepository) Resolve(ctx context.Context, id uuid.UUID, res alert.Resolution) error {
	query := `
        UPDATE security_alerts SET
            status = $1,
            reviewed_by = $2,
            reviewed_at = $3,
            action_taken = $4,
            resolution_notes = $5
        WHERE id = $6
    `

	cmdTag, err := r.db.Exec(ctx, query,
		alert.StatusResolved,
		res.ReviewedBy,
		res.ReviewedAt,
		res.ActionTaken,
		res.ResolutionNotes,
		id,
	)
	if err != nil {
		r.logger.Error("Failed to resolve security alert", zap.String("id", id.String()), zap.Error(err))
		return fmt.Errorf("database error on resolve security alert: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return alert.ErrNotFound
	}
	return nil
}

func (r *AlertRepository) scanAlert(row pgx.Row) (*alert.Alert, error) {
	var a alert.Alert
	var details []byte
	err := row.Scan(
		&a.ID,
		&a.SubscriptionID,
		&a.Type,
		&a.Severity,
		&details,
		&a.Fingerprint,
		&a.IPAddress,
		&a.Status,
		&a.ReviewedBy,
		&a.ReviewedAt,
		&a.ActionTaken,
		&a.ResolutionNotes,
		&a.CreatedAt,
		&a.CompanyName,
		&a.SystemName,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, alert.ErrNotFound
		}
		r.logger.Error("Failed to scan security alert row", zap.Error(err))
		return nil, fmt.Errorf("database scan error: %w", err)
	}
	a.Details = details
	return &a, nil
}
