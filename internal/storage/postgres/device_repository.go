package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/makkenzo/device-licensing-api/internal/domain/device"
	"go.uber.org/zap"
)

type DeviceRepository struct {
	db     DBTX
	logger *zap.Logger
}

var _ device.Repository = (*DeviceRepository)(nil)

const deviceColumns = `
    d.id, d.subscription_id, d.device_fingerprint, d.device_name, d.device_info, d.status,
    d.ip_address, d.first_activated, d.last_seen, d.approved_by, d.approved_at, d.rejection_reason`

func (r *DeviceRepository) Create(ctx context.Context, act *device.Activation) (uuid.UUID, error) {
	query := `
        INSERT INTO device_activations (
            subscription_id, device_fingerprint, device_name, device_info, status,
            ip_address, first_activated, last_seen
        ) VALUES (
            $1, $2, $3, $4, $5, $6, $7, $8
        ) RETURNING id
    `

	err := r.db.QueryRow(ctx, query,
		act.SubscriptionID,
		act.Fingerprint,
		act.DeviceName,
		jsonArg(act.DeviceInfo),
		act.Status,
		act.IPAddress,
		act.FirstActivatedAt,
		act.LastSeenAt,
	).Scan(&act.ID)
	if err != nil {
		if _, ok := isUniqueViolation(err); ok {
			r.logger.Warn("Device already registered for subscription",
				zap.String("subscription_id", act.SubscriptionID.String()),
				zap.String("fingerprint", act.Fingerprint),
			)
			return uuid.Nil, device.ErrAlreadyExists
		}
		r.logger.Error("Failed to create device activation", zap.Error(err))
		return uuid.Nil, fmt.Errorf("database error on create device activation: %w", err)
	}

	return act.ID, nil
}

func (r *DeviceRepository) FindByID(ctx context.Context, id uuid.UUID) (*device.Activation, error) {
	query := `SELECT ` + deviceColumns + ` FROM device_activations d WHERE d.id = $1`

	var act *device.Activation
	err := retryRead(ctx, r.logger, "device.find_by_id", func() error {
		var err error
		act, err = r.scanActivation(r.db.QueryRow(ctx, query, id))
		return err
	})
	return act, err
}

func (r *DeviceRepository) FindByFingerprint(ctx context.Context, subscriptionID uuid.UUID, fingerprint string) (*device.Activation, error) {
	query := `
        SELECT ` + deviceColumns + `
        FROM device_activations d
        WHERE d.subscription_id = $1 AND d.device_fingerprint = $2
    `

	var act *device.Activation
	err := retryRead(ctx, r.logger, "device.find_by_fingerprint", func() error {
		var err error
		act, err = r.scanActivation(r.db.QueryRow(ctx, query, subscriptionID, fingerprint))
		return err
	})
	return act, err
}

func (r *DeviceRepository) CountActive(ctx context.Context, subscriptionID uuid.UUID) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM device_activations WHERE subscription_id = $1 AND status = $2`,
		subscriptionID, device.StatusActive,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("database error on count active devices: %w", err)
	}
	return count, nil
}

func (r *DeviceRepository) UpdateStatus(ctx context.Context, act *device.Activation) error {
	query := `
        UPDATE device_activations SET
            status = $1,
            approved_by = $2,
            approved_at = $3,
            rejection_reason = $4
        WHERE id = $5
    `

	cmdTag, err := r.db.Exec(ctx, query,
		act.Status,
		act.ApprovedBy,
		act.ApprovedAt,
		act.RejectionReason,
		act.ID,
	)
	if err != nil {
		r.logger.Error("Failed to update device status", zap.String("id", act.ID.String()), zap.Error(err))
		return fmt.Errorf("database error on update device status: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return device.ErrNotFound
	}

	r.logger.Info("Device status updated", zap.String("id", act.ID.String()), zap.String("status", string(act.Status)))
	return nil
}

func (r *DeviceRepository) Touch(ctx context.Context, id uuid.UUID, ipAddress string, seenAt time.Time) error {
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE device_activations SET last_seen = $1, ip_address = $2 WHERE id = $3`,
		seenAt, ipAddress, id,
	)
	if err != nil {
		return fmt.Errorf("database error on touch device: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return device.ErrNotFound
	}
	return nil
}

func (r *DeviceRepository) ListPending(ctx context.Context) ([]*device.PendingActivation, error) {
	query := `
        SELECT ` + deviceColumns + `,
            s.company_name, s.system_name, s.max_activations,
            (SELECT COUNT(*) FROM device_activations a
             WHERE a.subscription_id = d.subscription_id AND a.status = 'active') AS active_count
        FROM device_activations d
        JOIN client_subscriptions s ON s.id = d.subscription_id
        WHERE d.status = 'pending'
        ORDER BY d.first_activated DESC
    `

	var list []*device.PendingActivation
	err := retryRead(ctx, r.logger, "device.list_pending", func() error {
		rows, err := r.db.Query(ctx, query)
		if err != nil {
			return err
		}
		defer rows.Close()

		list = make([]*device.PendingActivation, 0)
		for rows.Next() {
			var p device.PendingActivation
			var info []byte
			if err := rows.Scan(
				&p.ID, &p.SubscriptionID, &p.Fingerprint, &p.DeviceName, &info, &p.Status,
				&p.IPAddress, &p.FirstActivatedAt, &p.LastSeenAt, &p.ApprovedBy, &p.ApprovedAt, &p.RejectionReason,
				&p.CompanyName, &p.SystemName, &p.MaxActivations, &p.ActiveCount,
			); err != nil {
				return fmt.Errorf("database scan error during pending list: %w", err)
			}
			p.DeviceInfo = info
			list = append(list, &p)
		}
		return rows.Err()
	})
	if err != nil {
		r.logger.Error("Failed to list pending devices", zap.Error(err))
		return nil, fmt.Errorf("database error on list pending devices: %w", err)
	}
	return list, nil
}

func (r *DeviceRepository) ListBySubscription(ctx context.Context, subscriptionID uuid.UUID) ([]*device.Activation, error) {
	query := `
        SELECT ` + deviceColumns + `
        FROM device_activations d
        WHERE d.subscription_id = $1
        ORDER BY d.last_seen DESC
    `

	var list []*device.Activation
	err := retryRead(ctx, r.logger, "device.list_by_subscription", func() error {
		rows, err := r.db.Query(ctx, query, subscriptionID)
		if err != nil {
			return err
		}
		defer rows.Close()

		list = make([]*device.Activation, 0)
		for rows.Next() {
			act, err := r.scanActivation(rows)
			if err != nil {
				return err
			}
			list = append(list, act)
		}
		return rows.Err()
	})
	if err != nil {
		r.logger.Error("Failed to list subscription devices", zap.String("subscription_id", subscriptionID.String()), zap.Error(err))
		return nil, fmt.Errorf("database error on list subscription devices: %w", err)
	}
	return list, nil
}

func (r *DeviceRepository) scanActivation(row pgx.Row) (*device.Activation, error) {
	var act device.Activation
	var info []byte
	err := row.Scan(
		&act.ID,
		&act.SubscriptionID,
		&act.Fingerprint,
		&act.DeviceName,
		&info,
		&act.Status,
		&act.IPAddress,
		&act.FirstActivatedAt,
		&act.LastSeenAt,
		&act.ApprovedBy,
		&act.ApprovedAt,
		&act.RejectionReason,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, device.ErrNotFound
		}
		r.logger.Error("Failed to scan device activation row", zap.Error(err))
		return nil, fmt.Errorf("database scan error: %w", err)
	}
	act.DeviceInfo = info
	return &act, nil
}

// jsonArg maps empty metadata to SQL NULL.
func jsonArg(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
