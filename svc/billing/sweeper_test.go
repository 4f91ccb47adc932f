package billing_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingkit/pkg/money"
	"github.com/dmitrymomot/billingkit/pkg/payment"
	"github.com/dmitrymomot/billingkit/pkg/plan"
	"github.com/dmitrymomot/billingkit/pkg/subscription"
	"github.com/dmitrymomot/billingkit/svc/billing"
)

type mockEngine struct {
	mock.Mock
}

func (m *mockEngine) RenewDue(ctx context.Context, batch int) (payment.RenewalStats, error) {
	args := m.Called(ctx, batch)
	return args.Get(0).(payment.RenewalStats), args.Error(1)
}

func (m *mockEngine) ReconcilePending(ctx context.Context, olderThan time.Duration, batch int) (payment.ReconcileStats, error) {
	args := m.Called(ctx, olderThan, batch)
	return args.Get(0).(payment.ReconcileStats), args.Error(1)
}

func (m *mockEngine) SweepGrace(ctx context.Context, batch int) (payment.GraceStats, error) {
	args := m.Called(ctx, batch)
	return args.Get(0).(payment.GraceStats), args.Error(1)
}

type mockReminderNotifier struct {
	mock.Mock
}

func (m *mockReminderNotifier) SendRenewalReminder(ctx context.Context, n subscription.Notice) error {
	args := m.Called(ctx, n)
	return args.Error(0)
}

func sweepCatalog(t *testing.T) *plan.Catalog {
	t.Helper()
	catalog, err := plan.NewCatalog(context.Background(), plan.NewStaticSource(
		plan.Plan{
			ID: "basic", Version: 1, Name: "Basic",
			MonthlyPrice: money.MustNew(999, "USD"),
			AnnualPrice:  money.MustNew(9990, "USD"),
			Active:       true,
		},
	))
	require.NoError(t, err)
	return catalog
}

// sweepEnv wires a sweeper around a real in-memory subscription store
// and deduper, with the engine and notifier mocked.
type sweepEnv struct {
	engine   *mockEngine
	subs     *subscription.MemoryStore
	notifier *mockReminderNotifier
	dedup    *billing.MemoryDeduper
	sweeper  *billing.Sweeper
	now      time.Time
}

func newSweepEnv(t *testing.T, cfg billing.SweeperConfig) *sweepEnv {
	t.Helper()
	env := &sweepEnv{
		engine:   &mockEngine{},
		subs:     subscription.NewMemoryStore(),
		notifier: &mockReminderNotifier{},
		dedup:    billing.NewMemoryDeduper(),
		now:      time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
	}
	env.sweeper = billing.NewSweeper(
		env.engine, env.subs, sweepCatalog(t), env.notifier, env.dedup, cfg,
		billing.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		billing.WithClock(func() time.Time { return env.now }),
	)
	return env
}

func (env *sweepEnv) allowEnginePasses() {
	env.engine.On("RenewDue", mock.Anything, mock.Anything).Return(payment.RenewalStats{}, nil)
	env.engine.On("ReconcilePending", mock.Anything, mock.Anything, mock.Anything).Return(payment.ReconcileStats{}, nil)
	env.engine.On("SweepGrace", mock.Anything, mock.Anything).Return(payment.GraceStats{}, nil)
}

func (env *sweepEnv) seedActive(t *testing.T, periodEnd time.Time, mutate func(*subscription.Subscription)) *subscription.Subscription {
	t.Helper()
	sub := &subscription.Subscription{
		ID:                 uuid.New(),
		UserID:             uuid.New(),
		PlanID:             "basic",
		PlanVersion:        1,
		BillingPeriod:      plan.PeriodMonthly,
		Status:             subscription.StatusActive,
		IsActive:           true,
		CurrentPeriodStart: periodEnd.AddDate(0, -1, 0),
		CurrentPeriodEnd:   periodEnd,
		CreatedAt:          env.now.AddDate(0, -1, 0),
		UpdatedAt:          env.now.AddDate(0, -1, 0),
		Revision:           1,
	}
	if mutate != nil {
		mutate(sub)
		sub.IsActive = sub.Status.IsActive()
	}
	require.NoError(t, env.subs.Create(context.Background(), sub))
	return sub
}

func TestSweeper_RunOnceDrivesEveryPass(t *testing.T) {
	t.Parallel()

	env := newSweepEnv(t, billing.SweeperConfig{BatchSize: 25, PendingAge: 30 * time.Minute})
	env.allowEnginePasses()

	env.sweeper.RunOnce(context.Background())

	env.engine.AssertCalled(t, "RenewDue", mock.Anything, 25)
	env.engine.AssertCalled(t, "ReconcilePending", mock.Anything, 30*time.Minute, 25)
	env.engine.AssertCalled(t, "SweepGrace", mock.Anything, 25)
}

func TestSweeper_PassFailureDoesNotStopOthers(t *testing.T) {
	t.Parallel()

	env := newSweepEnv(t, billing.SweeperConfig{})
	env.engine.On("RenewDue", mock.Anything, mock.Anything).
		Return(payment.RenewalStats{}, errors.New("gateway down"))
	env.engine.On("ReconcilePending", mock.Anything, mock.Anything, mock.Anything).
		Return(payment.ReconcileStats{}, nil)
	env.engine.On("SweepGrace", mock.Anything, mock.Anything).
		Return(payment.GraceStats{}, nil)

	env.sweeper.RunOnce(context.Background())

	env.engine.AssertCalled(t, "ReconcilePending", mock.Anything, mock.Anything, mock.Anything)
	env.engine.AssertCalled(t, "SweepGrace", mock.Anything, mock.Anything)
}

func TestSweeper_ReminderSentOncePerPeriod(t *testing.T) {
	t.Parallel()

	env := newSweepEnv(t, billing.SweeperConfig{ReminderWindow: 24 * time.Hour})
	env.allowEnginePasses()
	sub := env.seedActive(t, env.now.Add(12*time.Hour), nil)

	env.notifier.On("SendRenewalReminder", mock.Anything, mock.MatchedBy(func(n subscription.Notice) bool {
		return n.SubscriptionID == sub.ID &&
			n.UserID == sub.UserID &&
			n.PlanID == "basic" &&
			n.PeriodEnd.Equal(sub.CurrentPeriodEnd) &&
			n.Amount == money.MustNew(999, "USD")
	})).Return(nil)

	env.sweeper.RunOnce(context.Background())
	env.sweeper.RunOnce(context.Background())

	env.notifier.AssertNumberOfCalls(t, "SendRenewalReminder", 1)
}

func TestSweeper_ReminderWindowAndFlags(t *testing.T) {
	t.Parallel()

	env := newSweepEnv(t, billing.SweeperConfig{ReminderWindow: 24 * time.Hour})
	env.allowEnginePasses()

	inWindow := env.seedActive(t, env.now.Add(12*time.Hour), nil)
	env.seedActive(t, env.now.Add(72*time.Hour), nil)
	env.seedActive(t, env.now.Add(6*time.Hour), func(s *subscription.Subscription) {
		s.CancelAtPeriodEnd = true
	})
	env.seedActive(t, env.now.Add(6*time.Hour), func(s *subscription.Subscription) {
		deadline := env.now.Add(48 * time.Hour)
		s.Status = subscription.StatusGrace
		s.GracePeriodEnd = &deadline
	})

	env.notifier.On("SendRenewalReminder", mock.Anything, mock.Anything).Return(nil)

	env.sweeper.RunOnce(context.Background())

	env.notifier.AssertNumberOfCalls(t, "SendRenewalReminder", 1)
	env.notifier.AssertCalled(t, "SendRenewalReminder", mock.Anything, mock.MatchedBy(func(n subscription.Notice) bool {
		return n.SubscriptionID == inWindow.ID
	}))
}

func TestSweeper_FailedReminderRetriesNextTick(t *testing.T) {
	t.Parallel()

	env := newSweepEnv(t, billing.SweeperConfig{ReminderWindow: 24 * time.Hour})
	env.allowEnginePasses()
	env.seedActive(t, env.now.Add(12*time.Hour), nil)

	env.notifier.On("SendRenewalReminder", mock.Anything, mock.Anything).
		Return(errors.New("smtp down")).Once()
	env.notifier.On("SendRenewalReminder", mock.Anything, mock.Anything).
		Return(nil).Once()

	env.sweeper.RunOnce(context.Background())
	env.sweeper.RunOnce(context.Background())
	env.sweeper.RunOnce(context.Background())

	// The failed claim was released, the second tick delivered, and
	// the third tick deduplicated.
	env.notifier.AssertNumberOfCalls(t, "SendRenewalReminder", 2)
}

func TestSweeper_DedupSharedBetweenWorkers(t *testing.T) {
	t.Parallel()

	env := newSweepEnv(t, billing.SweeperConfig{ReminderWindow: 24 * time.Hour})
	env.allowEnginePasses()
	env.seedActive(t, env.now.Add(12*time.Hour), nil)
	env.notifier.On("SendRenewalReminder", mock.Anything, mock.Anything).Return(nil)

	// Second worker shares the store, deduper and notifier, as two
	// deployments would share Redis.
	second := billing.NewSweeper(
		env.engine, env.subs, sweepCatalog(t), env.notifier, env.dedup,
		billing.SweeperConfig{ReminderWindow: 24 * time.Hour},
		billing.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		billing.WithClock(func() time.Time { return env.now }),
	)

	env.sweeper.RunOnce(context.Background())
	second.RunOnce(context.Background())

	env.notifier.AssertNumberOfCalls(t, "SendRenewalReminder", 1)
}

func TestSweeper_RunStopsOnCancel(t *testing.T) {
	t.Parallel()

	env := newSweepEnv(t, billing.SweeperConfig{
		RenewalInterval:   time.Hour,
		ReconcileInterval: time.Hour,
		GraceInterval:     time.Hour,
		ReminderInterval:  time.Hour,
	})
	env.allowEnginePasses()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- env.sweeper.Run(ctx) }()

	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop after cancellation")
	}

	// Each pass ran its immediate first tick before the loops parked.
	env.engine.AssertCalled(t, "RenewDue", mock.Anything, mock.Anything)
	env.engine.AssertCalled(t, "SweepGrace", mock.Anything, mock.Anything)
}

func TestNewSweeper_RequiresDependencies(t *testing.T) {
	t.Parallel()

	engine := &mockEngine{}
	subs := subscription.NewMemoryStore()
	catalog := sweepCatalog(t)
	notifier := &mockReminderNotifier{}
	dedup := billing.NewMemoryDeduper()
	cfg := billing.SweeperConfig{}

	assert.Panics(t, func() { billing.NewSweeper(nil, subs, catalog, notifier, dedup, cfg) })
	assert.Panics(t, func() { billing.NewSweeper(engine, nil, catalog, notifier, dedup, cfg) })
	assert.Panics(t, func() { billing.NewSweeper(engine, subs, nil, notifier, dedup, cfg) })
	assert.Panics(t, func() { billing.NewSweeper(engine, subs, catalog, nil, dedup, cfg) })
	assert.Panics(t, func() { billing.NewSweeper(engine, subs, catalog, notifier, nil, cfg) })
}
