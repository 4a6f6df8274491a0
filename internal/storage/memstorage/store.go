package memstorage

import (
	"context"
	"errors"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/makkenzo/device-licensing-api/internal/domain/alert"
	"github.com/makkenzo/device-licensing-api/internal/domain/device"
	"github.com/makkenzo/device-licensing-api/internal/domain/subscription"
	"github.com/makkenzo/device-licensing-api/internal/domain/token"
	"github.com/makkenzo/device-licensing-api/internal/domain/usage"
	"github.com/makkenzo/device-licensing-api/internal/storage"
)

// Store is an in-process storage.Store. WithSubscriptionLock serializes callers per
// subscription like the Postgres row lock does, and undoes the writes made through the tx store
// when fn fails.
type Store struct {
	mu      sync.RWMutex
	subs    map[uuid.UUID]*subscription.Subscription
	devices map[uuid.UUID]*device.Activation
	alerts  []*alert.Alert
	tokens  []*token.LicenseToken
	usage   []*usage.Entry

	locks sync.Map
	now   func() time.Time
}

var _ storage.Store = (*Store)(nil)

func NewStore() *Store {
	return &Store{
		subs:    make(map[uuid.UUID]*subscription.Subscription),
		devices: make(map[uuid.UUID]*device.Activation),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the clock used for created_at columns.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

func (s *Store) Subscriptions() subscription.Repository { return subscriptionRepo{s: s} }
func (s *Store) Devices() device.Repository             { return deviceRepo{s: s} }
func (s *Store) Alerts() alert.Repository               { return alertRepo{s: s} }
func (s *Store) Tokens() token.Repository               { return tokenRepo{s: s} }
func (s *Store) Usage() usage.Repository                { return usageRepo{s: s} }

func (s *Store) WithSubscriptionLock(ctx context.Context, subscriptionID uuid.UUID, fn func(tx storage.Store) error) error {
	s.mu.RLock()
	_, ok := s.subs[subscriptionID]
	s.mu.RUnlock()
	if !ok {
		return subscription.ErrNotFound
	}

	lock, _ := s.locks.LoadOrStore(subscriptionID, &sync.Mutex{})
	mu := lock.(*sync.Mutex)
	mu.Lock()
	defer mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &txStore{s: s, j: &journal{}}
	if err := fn(tx); err != nil {
		s.mu.Lock()
		tx.j.rollback()
		s.mu.Unlock()
		return err
	}
	return nil
}

// journal collects undo steps for writes made inside WithSubscriptionLock. Steps run with s.mu
// held, newest first.
type journal struct {
	undo []func()
}

func (j *journal) record(step func()) {
	if j != nil {
		j.undo = append(j.undo, step)
	}
}

func (j *journal) rollback() {
	for i := len(j.undo) - 1; i >= 0; i-- {
		j.undo[i]()
	}
	j.undo = nil
}

type txStore struct {
	s *Store
	j *journal
}

var _ storage.Store = (*txStore)(nil)

func (t *txStore) Subscriptions() subscription.Repository { return subscriptionRepo{t.s, t.j} }
func (t *txStore) Devices() device.Repository             { return deviceRepo{t.s, t.j} }
func (t *txStore) Alerts() alert.Repository               { return alertRepo{t.s, t.j} }
func (t *txStore) Tokens() token.Repository               { return tokenRepo{t.s, t.j} }
func (t *txStore) Usage() usage.Repository                { return usageRepo{t.s, t.j} }

func (t *txStore) WithSubscriptionLock(context.Context, uuid.UUID, func(tx storage.Store) error) error {
	return errors.New("nested subscription lock is not supported")
}

// TokenCount reports how many license tokens were issued for a device.
func (s *Store) TokenCount(subscriptionID uuid.UUID, fingerprint string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, t := range s.tokens {
		if t.SubscriptionID == subscriptionID && t.Fingerprint == fingerprint {
			n++
		}
	}
	return n
}

// UsageEntries returns a copy of the usage log in insertion order.
func (s *Store) UsageEntries() []usage.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]usage.Entry, len(s.usage))
	for i, e := range s.usage {
		out[i] = *e
	}
	return out
}

type subscriptionRepo struct {
	s *Store
	j *journal
}

func (r subscriptionRepo) Create(ctx context.Context, sub *subscription.Subscription) (uuid.UUID, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}
	now := r.s.now()
	sub.CreatedAt, sub.UpdatedAt = now, now

	c := *sub
	prev, existed := r.s.subs[c.ID]
	r.s.subs[c.ID] = &c
	r.j.record(func() {
		if existed {
			r.s.subs[c.ID] = prev
		} else {
			delete(r.s.subs, c.ID)
		}
	})
	return c.ID, nil
}

func (r subscriptionRepo) FindByID(ctx context.Context, id uuid.UUID) (*subscription.Subscription, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	sub, ok := r.s.subs[id]
	if !ok {
		return nil, subscription.ErrNotFound
	}
	c := *sub
	return &c, nil
}

func (r subscriptionRepo) FindByAPIKeyHash(ctx context.Context, keyHash string) (*subscription.Subscription, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, sub := range r.s.subs {
		if sub.APIKeyHash == keyHash {
			c := *sub
			return &c, nil
		}
	}
	return nil, subscription.ErrNotFound
}

type deviceRepo struct {
	s *Store
	j *journal
}

func copyActivation(a *device.Activation) *device.Activation {
	c := *a
	if a.DeviceInfo != nil {
		c.DeviceInfo = append([]byte(nil), a.DeviceInfo...)
	}
	return &c
}

func (r deviceRepo) Create(ctx context.Context, act *device.Activation) (uuid.UUID, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, existing := range r.s.devices {
		if existing.SubscriptionID == act.SubscriptionID && existing.Fingerprint == act.Fingerprint {
			return uuid.Nil, device.ErrAlreadyExists
		}
	}

	if act.ID == uuid.Nil {
		act.ID = uuid.New()
	}
	r.s.devices[act.ID] = copyActivation(act)
	id := act.ID
	r.j.record(func() { delete(r.s.devices, id) })
	return act.ID, nil
}

func (r deviceRepo) FindByID(ctx context.Context, id uuid.UUID) (*device.Activation, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	act, ok := r.s.devices[id]
	if !ok {
		return nil, device.ErrNotFound
	}
	return copyActivation(act), nil
}

func (r deviceRepo) FindByFingerprint(ctx context.Context, subscriptionID uuid.UUID, fingerprint string) (*device.Activation, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, act := range r.s.devices {
		if act.SubscriptionID == subscriptionID && act.Fingerprint == fingerprint {
			return copyActivation(act), nil
		}
	}
	return nil, device.ErrNotFound
}

func (r deviceRepo) countActiveLocked(subscriptionID uuid.UUID) int {
	n := 0
	for _, act := range r.s.devices {
		if act.SubscriptionID == subscriptionID && act.Status == device.StatusActive {
			n++
		}
	}
	return n
}

func (r deviceRepo) CountActive(ctx context.Context, subscriptionID uuid.UUID) (int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return r.countActiveLocked(subscriptionID), nil
}

func (r deviceRepo) UpdateStatus(ctx context.Context, act *device.Activation) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	stored, ok := r.s.devices[act.ID]
	if !ok {
		return device.ErrNotFound
	}
	r.recordRestore(stored)
	stored.Status = act.Status
	stored.ApprovedBy = act.ApprovedBy
	stored.ApprovedAt = act.ApprovedAt
	stored.RejectionReason = act.RejectionReason
	return nil
}

func (r deviceRepo) Touch(ctx context.Context, id uuid.UUID, ipAddress string, seenAt time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	stored, ok := r.s.devices[id]
	if !ok {
		return device.ErrNotFound
	}
	r.recordRestore(stored)
	stored.LastSeenAt = seenAt
	stored.IPAddress = ipAddress
	return nil
}

func (r deviceRepo) recordRestore(stored *device.Activation) {
	prev := copyActivation(stored)
	r.j.record(func() { r.s.devices[prev.ID] = prev })
}

func (r deviceRepo) ListPending(ctx context.Context) ([]*device.PendingActivation, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := make([]*device.PendingActivation, 0)
	for _, act := range r.s.devices {
		if act.Status != device.StatusPending {
			continue
		}
		p := &device.PendingActivation{Activation: *copyActivation(act)}
		if sub, ok := r.s.subs[act.SubscriptionID]; ok {
			p.CompanyName = sub.CompanyName
			p.SystemName = sub.SystemName
			p.MaxActivations = sub.MaxActivations
		}
		p.ActiveCount = r.countActiveLocked(act.SubscriptionID)
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].FirstActivatedAt.After(out[j].FirstActivatedAt)
	})
	return out, nil
}

func (r deviceRepo) ListBySubscription(ctx context.Context, subscriptionID uuid.UUID) ([]*device.Activation, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := make([]*device.Activation, 0)
	for _, act := range r.s.devices {
		if act.SubscriptionID == subscriptionID {
			out = append(out, copyActivation(act))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastSeenAt.After(out[j].LastSeenAt)
	})
	return out, nil
}

type alertRepo struct {
	s *Store
	j *journal
}

func copyAlert(a *alert.Alert) *alert.Alert {
	c := *a
	c.Details = append([]byte(nil), a.Details...)
	return &c
}

func (r alertRepo) Create(ctx context.Context, a *alert.Alert) (uuid.UUID, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Status == "" {
		a.Status = alert.StatusOpen
	}
	a.CreatedAt = r.s.now()
	r.s.alerts = append(r.s.alerts, copyAlert(a))
	id := a.ID
	r.j.record(func() {
		r.s.alerts = slices.DeleteFunc(r.s.alerts, func(x *alert.Alert) bool { return x.ID == id })
	})
	return a.ID, nil
}

func (r alertRepo) FindByID(ctx context.Context, id uuid.UUID) (*alert.Alert, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, a := range r.s.alerts {
		if a.ID == id {
			return copyAlert(a), nil
		}
	}
	return nil, alert.ErrNotFound
}

func (r alertRepo) List(ctx context.Context, f alert.Filter) ([]*alert.Alert, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	limit := f.Limit
	if limit <= 0 || limit > alert.MaxListLimit {
		limit = alert.MaxListLimit
	}

	out := make([]*alert.Alert, 0)
	for i := len(r.s.alerts) - 1; i >= 0 && len(out) < limit; i-- {
		a := r.s.alerts[i]
		if f.SubscriptionID != nil && a.SubscriptionID != *f.SubscriptionID {
			continue
		}
		if f.Status != nil && a.Status != *f.Status {
			continue
		}
		if f.Severity != nil && a.Severity != *f.Severity {
			continue
		}
		if f.Type != nil && a.Type != *f.Type {
			continue
		}
		c := copyAlert(a)
		if sub, ok := r.s.subs[a.SubscriptionID]; ok {
			c.CompanyName = sub.CompanyName
			c.SystemName = sub.SystemName
		}
		out = append(out, c)
	}
	return out, nil
}

func (r alertRepo) Resolve(ctx context.Context, id uuid.UUID, res alert.Resolution) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, a := range r.s.alerts {
		if a.ID != id {
			continue
		}
		prev := copyAlert(a)
		r.j.record(func() {
			if i := slices.IndexFunc(r.s.alerts, func(x *alert.Alert) bool { return x.ID == prev.ID }); i >= 0 {
				r.s.alerts[i] = prev
			}
		})
		reviewedBy, reviewedAt, action := res.ReviewedBy, res.ReviewedAt, res.ActionTaken
		a.Status = alert.StatusResolved
		a.ReviewedBy = &reviewedBy
		a.ReviewedAt = &reviewedAt
		a.ActionTaken = &action
		a.ResolutionNotes = res.ResolutionNotes
		return nil
	}
	return alert.ErrNotFound
}

type tokenRepo struct {
	s *Store
	j *journal
}

func (r tokenRepo) Create(ctx context.Context, t *token.LicenseToken) (uuid.UUID, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	t.CreatedAt = r.s.now()
	c := *t
	r.s.tokens = append(r.s.tokens, &c)
	r.j.record(func() {
		r.s.tokens = slices.DeleteFunc(r.s.tokens, func(x *token.LicenseToken) bool { return x.ID == c.ID })
	})
	return t.ID, nil
}

func (r tokenRepo) DeleteExpiredBefore(ctx context.Context, before time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var kept, removed []*token.LicenseToken
	for _, t := range r.s.tokens {
		if t.ExpiresAt.Before(before) {
			removed = append(removed, t)
			continue
		}
		kept = append(kept, t)
	}
	r.s.tokens = kept
	r.j.record(func() { r.s.tokens = append(r.s.tokens, removed...) })
	return int64(len(removed)), nil
}

type usageRepo struct {
	s *Store
	j *journal
}

func (r usageRepo) Create(ctx context.Context, e *usage.Entry) (uuid.UUID, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.RequestedAt.IsZero() {
		e.RequestedAt = r.s.now()
	}
	c := *e
	r.s.usage = append(r.s.usage, &c)
	r.j.record(func() {
		r.s.usage = slices.DeleteFunc(r.s.usage, func(x *usage.Entry) bool { return x.ID == c.ID })
	})
	return e.ID, nil
}

func (r usageRepo) FindRecentOtherDevice(ctx context.Context, apiKeyHash, fingerprint string, since time.Time) (*usage.Entry, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for i := len(r.s.usage) - 1; i >= 0; i-- {
		e := r.s.usage[i]
		if e.APIKeyHash != apiKeyHash || e.Fingerprint == "" || e.Fingerprint == fingerprint {
			continue
		}
		if !e.RequestedAt.After(since) {
			continue
		}
		c := *e
		return &c, nil
	}
	return nil, nil
}

func (r usageRepo) Stats(ctx context.Context, subscriptionID uuid.UUID) (*usage.Stats, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	stats := &usage.Stats{}
	ips := make(map[string]struct{})
	days := make(map[string]struct{})
	for _, e := range r.s.usage {
		if e.SubscriptionID != subscriptionID {
			continue
		}
		stats.TotalRequests++
		ips[e.IPAddress] = struct{}{}
		days[e.RequestedAt.UTC().Format(time.DateOnly)] = struct{}{}
		if stats.LastRequest == nil || e.RequestedAt.After(*stats.LastRequest) {
			last := e.RequestedAt
			stats.LastRequest = &last
		}
	}
	stats.UniqueIPs = int64(len(ips))
	stats.ActiveDays = int64(len(days))
	return stats, nil
}

func (r usageRepo) ListRecent(ctx context.Context, subscriptionID uuid.UUID, limit int) ([]*usage.Entry, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	if limit <= 0 || limit > usage.MaxRecentLimit {
		limit = usage.MaxRecentLimit
	}

	out := make([]*usage.Entry, 0)
	for _, e := range r.s.usage {
		if e.SubscriptionID == subscriptionID {
			c := *e
			out = append(out, &c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].RequestedAt.After(out[j].RequestedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r usageRepo) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var kept, removed []*usage.Entry
	for _, e := range r.s.usage {
		if e.RequestedAt.Before(before) {
			removed = append(removed, e)
			continue
		}
		kept = append(kept, e)
	}
	r.s.usage = kept
	r.j.record(func() { r.s.usage = append(r.s.usage, removed...) })
	return int64(len(removed)), nil
}
