// Package billing runs the periodic maintenance passes a subscription
// ledger needs: charging due renewals, reconciling stale pending
// payments against the gateway, expiring exhausted grace periods and
// reminding customers ahead of their next renewal.
package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/billingkit/pkg/logger"
	"github.com/dmitrymomot/billingkit/pkg/payment"
	"github.com/dmitrymomot/billingkit/pkg/plan"
	"github.com/dmitrymomot/billingkit/pkg/subscription"
)

// Engine is the slice of the payment orchestrator the sweeper drives.
// *payment.Orchestrator satisfies it.
type Engine interface {
	RenewDue(ctx context.Context, batch int) (payment.RenewalStats, error)
	ReconcilePending(ctx context.Context, olderThan time.Duration, batch int) (payment.ReconcileStats, error)
	SweepGrace(ctx context.Context, batch int) (payment.GraceStats, error)
}

// ReminderSource lists subscriptions approaching their period end.
// Subscription stores satisfy it.
type ReminderSource interface {
	ListRenewingSoon(ctx context.Context, from, to time.Time, limit int) ([]*subscription.Subscription, error)
}

// ReminderNotifier delivers the upcoming-renewal notice.
type ReminderNotifier interface {
	SendRenewalReminder(ctx context.Context, n subscription.Notice) error
}

// Catalog prices the upcoming renewal for the reminder notice.
// *plan.Catalog satisfies it.
type Catalog interface {
	Version(id string, version int) (plan.Plan, error)
}

// Sweeper owns the billing maintenance loops. Every pass runs on its
// own ticker so a slow gateway cannot starve grace expiry, and a
// failing tick never stops the other passes.
type Sweeper struct {
	engine   Engine
	subs     ReminderSource
	catalog  Catalog
	notifier ReminderNotifier
	dedup    Deduper
	cfg      SweeperConfig
	log      *slog.Logger
	now      func() time.Time
}

// SweeperOption configures optional Sweeper behavior.
type SweeperOption func(*Sweeper)

// WithLogger sets the logger for pass diagnostics.
func WithLogger(log *slog.Logger) SweeperOption {
	return func(s *Sweeper) {
		if log != nil {
			s.log = log
		}
	}
}

// WithClock overrides the time source. Reminder windows are computed
// from it.
func WithClock(now func() time.Time) SweeperOption {
	return func(s *Sweeper) {
		if now != nil {
			s.now = now
		}
	}
}

// NewSweeper wires the maintenance passes. All five collaborators are
// required; panics on nil since that is a wiring error.
func NewSweeper(
	engine Engine,
	subs ReminderSource,
	catalog Catalog,
	notifier ReminderNotifier,
	dedup Deduper,
	cfg SweeperConfig,
	opts ...SweeperOption,
) *Sweeper {
	if engine == nil {
		panic("billing: engine is required")
	}
	if subs == nil {
		panic("billing: reminder source is required")
	}
	if catalog == nil {
		panic("billing: catalog is required")
	}
	if notifier == nil {
		panic("billing: notifier is required")
	}
	if dedup == nil {
		panic("billing: deduper is required")
	}

	s := &Sweeper{
		engine:   engine,
		subs:     subs,
		catalog:  catalog,
		notifier: notifier,
		dedup:    dedup,
		cfg:      cfg.withDefaults(),
		log:      slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run starts all four pass loops and blocks until ctx is cancelled.
// Each loop fires immediately so a fresh deploy drains its backlog
// without waiting out a full interval.
func (s *Sweeper) Run(ctx context.Context) error {
	s.log.InfoContext(ctx, "billing sweeper started",
		slog.Duration("renewal_interval", s.cfg.RenewalInterval),
		slog.Duration("reconcile_interval", s.cfg.ReconcileInterval),
		slog.Duration("grace_interval", s.cfg.GraceInterval),
		slog.Duration("reminder_interval", s.cfg.ReminderInterval),
		slog.Int("batch_size", s.cfg.BatchSize),
	)

	var wg sync.WaitGroup
	for _, p := range []struct {
		every time.Duration
		fn    func(context.Context)
	}{
		{s.cfg.RenewalInterval, s.renewalPass},
		{s.cfg.ReconcileInterval, s.reconcilePass},
		{s.cfg.GraceInterval, s.gracePass},
		{s.cfg.ReminderInterval, s.reminderPass},
	} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.loop(ctx, p.every, p.fn)
		}()
	}
	wg.Wait()

	s.log.Info("billing sweeper stopped")
	return nil
}

// RunOnce executes every pass once, sequentially. Deployments use Run;
// RunOnce backs one-shot invocations and tests.
func (s *Sweeper) RunOnce(ctx context.Context) {
	s.renewalPass(ctx)
	s.reconcilePass(ctx)
	s.gracePass(ctx)
	s.reminderPass(ctx)
}

func (s *Sweeper) loop(ctx context.Context, every time.Duration, pass func(context.Context)) {
	pass(ctx)

	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pass(ctx)
		}
	}
}

func (s *Sweeper) renewalPass(ctx context.Context) {
	start := time.Now()
	stats, err := s.engine.RenewDue(ctx, s.cfg.BatchSize)
	if err != nil {
		s.log.ErrorContext(ctx, "renewal pass aborted",
			logger.Error(err),
			slog.Int("charged", stats.Charged),
		)
		return
	}
	s.log.InfoContext(ctx, "renewal pass complete",
		slog.Int("due", stats.Due),
		slog.Int("charged", stats.Charged),
		slog.Int("cancelled", stats.Cancelled),
		slog.Int("skipped", stats.Skipped),
		slog.Int("failed", stats.Failed),
		logger.Duration(time.Since(start)),
	)
}

func (s *Sweeper) reconcilePass(ctx context.Context) {
	start := time.Now()
	stats, err := s.engine.ReconcilePending(ctx, s.cfg.PendingAge, s.cfg.BatchSize)
	if err != nil {
		s.log.ErrorContext(ctx, "reconcile pass aborted",
			logger.Error(err),
			slog.Int("settled", stats.Settled),
		)
		return
	}
	s.log.InfoContext(ctx, "reconcile pass complete",
		slog.Int("checked", stats.Checked),
		slog.Int("settled", stats.Settled),
		slog.Int("abandoned", stats.Abandoned),
		slog.Int("skipped", stats.Skipped),
		slog.Int("failed", stats.Failed),
		logger.Duration(time.Since(start)),
	)
}

func (s *Sweeper) gracePass(ctx context.Context) {
	start := time.Now()
	stats, err := s.engine.SweepGrace(ctx, s.cfg.BatchSize)
	if err != nil {
		s.log.ErrorContext(ctx, "grace pass aborted",
			logger.Error(err),
			slog.Int("expired", stats.Expired),
		)
		return
	}
	s.log.InfoContext(ctx, "grace pass complete",
		slog.Int("checked", stats.Checked),
		slog.Int("expired", stats.Expired),
		slog.Int("failed", stats.Failed),
		logger.Duration(time.Since(start)),
	)
}

var errAlreadyReminded = errors.New("already reminded")

func (s *Sweeper) reminderPass(ctx context.Context) {
	start := time.Now()
	now := s.now()

	subs, err := s.subs.ListRenewingSoon(ctx, now, now.Add(s.cfg.ReminderWindow), s.cfg.BatchSize)
	if err != nil {
		s.log.ErrorContext(ctx, "reminder pass aborted", logger.Error(err))
		return
	}

	var sent, deduplicated, failed int
	for _, sub := range subs {
		if ctx.Err() != nil {
			return
		}
		switch err := s.remindOne(ctx, sub); {
		case err == nil:
			sent++
		case errors.Is(err, errAlreadyReminded):
			deduplicated++
		default:
			failed++
			s.log.WarnContext(ctx, "renewal reminder not sent",
				logger.Error(err),
				logger.SubscriptionID(sub.ID),
			)
		}
	}

	s.log.InfoContext(ctx, "reminder pass complete",
		slog.Int("candidates", len(subs)),
		slog.Int("sent", sent),
		slog.Int("deduplicated", deduplicated),
		slog.Int("failed", failed),
		logger.Duration(time.Since(start)),
	)
}

func (s *Sweeper) remindOne(ctx context.Context, sub *subscription.Subscription) error {
	key := reminderKey(sub.ID, sub.CurrentPeriodEnd)
	won, err := s.dedup.Once(ctx, key, s.cfg.ReminderTTL)
	if err != nil {
		return err
	}
	if !won {
		return errAlreadyReminded
	}

	notice := subscription.Notice{
		UserID:         sub.UserID,
		SubscriptionID: sub.ID,
		PlanID:         sub.PlanID,
		PeriodEnd:      sub.CurrentPeriodEnd,
	}
	if p, err := s.catalog.Version(sub.PlanID, sub.PlanVersion); err == nil {
		if price, err := p.Price(sub.BillingPeriod); err == nil {
			notice.Amount = price
		}
	} else {
		s.log.DebugContext(ctx, "reminder amount unresolved",
			logger.PlanID(sub.PlanID),
			logger.Error(err),
		)
	}

	if err := s.notifier.SendRenewalReminder(ctx, notice); err != nil {
		// Give the claim back so the next tick retries instead of
		// waiting out the TTL.
		if relErr := s.dedup.Release(ctx, key); relErr != nil {
			return errors.Join(err, relErr)
		}
		return err
	}
	return nil
}

// reminderKey is stable per billing period, so every renewal cycle
// gets exactly one reminder.
func reminderKey(id uuid.UUID, periodEnd time.Time) string {
	return fmt.Sprintf("billing:reminder:%s:%d", id, periodEnd.Unix())
}
