package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/makkenzo/device-licensing-api/internal/domain/alert"
	"github.com/makkenzo/device-licensing-api/internal/domain/device"
	"github.com/makkenzo/device-licensing-api/internal/domain/subscription"
	"github.com/makkenzo/device-licensing-api/internal/domain/token"
	"github.com/makkenzo/device-licensing-api/internal/domain/usage"
	"github.com/makkenzo/device-licensing-api/internal/storage"
	"go.uber.org/zap"
)

const uniqueViolation = "23505"

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct {
	pool   *pgxpool.Pool
	logger *zap.Logger

	subscriptions *SubscriptionRepository
	devices       *DeviceRepository
	alerts        *AlertRepository
	tokens        *TokenRepository
	usage         *UsageRepository
}

var _ storage.Store = (*Store)(nil)

func NewStore(pool *pgxpool.Pool, logger *zap.Logger) *Store {
	s := newStore(pool, logger.Named("PostgresStore"))
	s.pool = pool
	return s
}

func newStore(db DBTX, logger *zap.Logger) *Store {
	return &Store{
		logger:        logger,
		subscriptions: &SubscriptionRepository{db: db, logger: logger.Named("SubscriptionRepository")},
		devices:       &DeviceRepository{db: db, logger: logger.Named("DeviceRepository")},
		alerts:        &AlertRepository{db: db, logger: logger.Named("AlertRepository")},
		tokens:        &TokenRepository{db: db, logger: logger.Named("TokenRepository")},
		usage:         &UsageRepository{db: db, logger: logger.Named("UsageRepository")},
	}
}

func (s *Store) Subscriptions() subscription.Repository { return s.subscriptions }
func (s *Store) Devices() device.Repository             { return s.devices }
func (s *Store) Alerts() alert.Repository               { return s.alerts }
func (s *Store) Tokens() token.Repository               { return s.tokens }
func (s *Store) Usage() usage.Repository                { return s.usage }

// WithSubscriptionLock opens a transaction, locks the subscription row with SELECT ... FOR UPDATE
// and hands fn a Store bound to that transaction. Concurrent callers for the same subscription
// queue on the row lock; other subscriptions are unaffected.
func (s *Store) WithSubscriptionLock(ctx context.Context, subscriptionID uuid.UUID, fn func(tx storage.Store) error) error {
	if s.pool == nil {
		return errors.New("nested subscription lock is not supported")
	}

	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		var locked uuid.UUID
		err := tx.QueryRow(ctx, `SELECT id FROM client_subscriptions WHERE id = $1 FOR UPDATE`, subscriptionID).Scan(&locked)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return subscription.ErrNotFound
			}
			return fmt.Errorf("lock subscription %s: %w", subscriptionID, err)
		}
		return fn(newStore(tx, s.logger))
	})
}

func isUniqueViolation(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return pgErr, true
	}
	return nil, false
}
