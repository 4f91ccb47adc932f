package subscription

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore implements Store with a mutex-guarded map. Both atomic
// primitives run under the same lock, so the constrained insert and the
// revision check hold within one process. Intended for tests and
// development; production deployments use the Mongo or Postgres store.
type MemoryStore struct {
	mu   sync.Mutex
	subs map[uuid.UUID]*Subscription
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{subs: make(map[uuid.UUID]*Subscription)}
}

// Create inserts the subscription unless the user already holds a
// non-terminal one.
func (s *MemoryStore) Create(_ context.Context, sub *Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.subs {
		if existing.UserID == sub.UserID && !existing.Status.Terminal() {
			return ErrDuplicateActiveSubscription
		}
	}
	s.subs[sub.ID] = cloneSubscription(sub)
	return nil
}

// Get returns a copy of the subscription by id.
func (s *MemoryStore) Get(_ context.Context, id uuid.UUID) (*Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subs[id]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	return cloneSubscription(sub), nil
}

// GetByUser returns a copy of the user's non-terminal subscription.
func (s *MemoryStore) GetByUser(_ context.Context, userID uuid.UUID) (*Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sub := range s.subs {
		if sub.UserID == userID && !sub.Status.Terminal() {
			return cloneSubscription(sub), nil
		}
	}
	return nil, ErrSubscriptionNotFound
}

// Update replaces the stored subscription if the caller's revision
// still matches, then bumps the revision on both copies.
func (s *MemoryStore) Update(_ context.Context, sub *Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.subs[sub.ID]
	if !ok {
		return ErrSubscriptionNotFound
	}
	if existing.Revision != sub.Revision {
		return ErrConflict
	}
	sub.Revision++
	s.subs[sub.ID] = cloneSubscription(sub)
	return nil
}

// ListRenewalsDue returns active or grace subscriptions whose period
// has ended, oldest period end first.
func (s *MemoryStore) ListRenewalsDue(_ context.Context, asOf time.Time, limit int) ([]*Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*Subscription
	for _, sub := range s.subs {
		if sub.Status.IsActive() && sub.RenewalDue(asOf) {
			due = append(due, cloneSubscription(sub))
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].CurrentPeriodEnd.Before(due[j].CurrentPeriodEnd) })
	return capList(due, limit), nil
}

// ListGraceExpired returns grace subscriptions whose deadline passed,
// earliest deadline first.
func (s *MemoryStore) ListGraceExpired(_ context.Context, asOf time.Time, limit int) ([]*Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []*Subscription
	for _, sub := range s.subs {
		if sub.GraceExpired(asOf) {
			expired = append(expired, cloneSubscription(sub))
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].GracePeriodEnd.Before(*expired[j].GracePeriodEnd) })
	return capList(expired, limit), nil
}

// ListRenewingSoon returns active subscriptions renewing in [from, to)
// that are not flagged to cancel.
func (s *MemoryStore) ListRenewingSoon(_ context.Context, from, to time.Time, limit int) ([]*Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var soon []*Subscription
	for _, sub := range s.subs {
		if sub.Status == StatusActive && !sub.CancelAtPeriodEnd &&
			!sub.CurrentPeriodEnd.Before(from) && sub.CurrentPeriodEnd.Before(to) {
			soon = append(soon, cloneSubscription(sub))
		}
	}
	sort.Slice(soon, func(i, j int) bool { return soon[i].CurrentPeriodEnd.Before(soon[j].CurrentPeriodEnd) })
	return capList(soon, limit), nil
}

func capList(subs []*Subscription, limit int) []*Subscription {
	if limit > 0 && len(subs) > limit {
		return subs[:limit]
	}
	return subs
}

func cloneSubscription(sub *Subscription) *Subscription {
	cp := *sub
	cp.CancelledAt = cloneTime(sub.CancelledAt)
	cp.LastPaymentAt = cloneTime(sub.LastPaymentAt)
	cp.GracePeriodEnd = cloneTime(sub.GracePeriodEnd)
	cp.ExpiredAt = cloneTime(sub.ExpiredAt)
	return &cp
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
