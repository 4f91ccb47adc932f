package subscription_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingkit/pkg/money"
	"github.com/dmitrymomot/billingkit/pkg/plan"
	"github.com/dmitrymomot/billingkit/pkg/subscription"
)

// Mock implementations

type mockUsers struct {
	mock.Mock
}

func (m *mockUsers) Exists(ctx context.Context, userID uuid.UUID) (bool, error) {
	args := m.Called(ctx, userID)
	return args.Bool(0), args.Error(1)
}

type mockCharger struct {
	mock.Mock
}

func (m *mockCharger) Charge(ctx context.Context, req subscription.ChargeRequest) (*subscription.ChargeResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*subscription.ChargeResult), args.Error(1)
}

func (m *mockCharger) Credit(ctx context.Context, req subscription.CreditRequest) (*subscription.ChargeResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*subscription.ChargeResult), args.Error(1)
}

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) SendWelcome(ctx context.Context, n subscription.Notice) error {
	return m.Called(ctx, n).Error(0)
}

func (m *mockNotifier) SendRenewalReminder(ctx context.Context, n subscription.Notice) error {
	return m.Called(ctx, n).Error(0)
}

func (m *mockNotifier) SendCancellation(ctx context.Context, n subscription.Notice) error {
	return m.Called(ctx, n).Error(0)
}

func (m *mockNotifier) SendPaymentFailed(ctx context.Context, n subscription.Notice) error {
	return m.Called(ctx, n).Error(0)
}

func (m *mockNotifier) SendExpired(ctx context.Context, n subscription.Notice) error {
	return m.Called(ctx, n).Error(0)
}

// Test helpers

func testCatalog(t *testing.T) *plan.Catalog {
	t.Helper()
	catalog, err := plan.NewCatalog(context.Background(), plan.NewStaticSource(
		plan.Plan{
			ID: "free", Version: 1, Name: "Free",
			MonthlyPrice: money.MustNew(0, "USD"),
			AnnualPrice:  money.MustNew(0, "USD"),
			Active:       true,
		},
		plan.Plan{
			ID: "basic", Version: 1, Name: "Basic",
			MonthlyPrice: money.MustNew(999, "USD"),
			AnnualPrice:  money.MustNew(9990, "USD"),
			Active:       true,
		},
		plan.Plan{
			ID: "basic", Version: 2, Name: "Basic",
			MonthlyPrice: money.MustNew(1299, "USD"),
			AnnualPrice:  money.MustNew(12990, "USD"),
			Active:       true,
		},
		plan.Plan{
			ID: "pro", Version: 1, Name: "Pro",
			MonthlyPrice: money.MustNew(2999, "USD"),
			AnnualPrice:  money.MustNew(29990, "USD"),
			Active:       true,
		},
	))
	require.NoError(t, err)
	return catalog
}

// testEnv wires a service around a real in-memory store and a real
// catalog, with gateway and notification boundaries mocked. The clock
// is frozen at env.now and tests advance it by reassigning the field.
type testEnv struct {
	users    *mockUsers
	charger  *mockCharger
	notifier *mockNotifier
	store    *subscription.MemoryStore
	svc      subscription.Service
	now      time.Time
}

func newTestEnv(t *testing.T, opts ...subscription.Option) *testEnv {
	t.Helper()
	env := &testEnv{
		users:    &mockUsers{},
		charger:  &mockCharger{},
		notifier: &mockNotifier{},
		store:    subscription.NewMemoryStore(),
		now:      time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
	}
	opts = append([]subscription.Option{
		subscription.WithClock(func() time.Time { return env.now }),
	}, opts...)
	env.svc = subscription.NewService(env.users, testCatalog(t), env.store, env.charger, env.notifier, opts...)
	return env
}

// allowNotifications registers permissive expectations for every
// notification kind so tests that do not assert on dispatch still pass.
func (env *testEnv) allowNotifications() {
	for _, method := range []string{
		"SendWelcome", "SendRenewalReminder", "SendCancellation", "SendPaymentFailed", "SendExpired",
	} {
		env.notifier.On(method, mock.Anything, mock.Anything).Return(nil).Maybe()
	}
}

// seed inserts a subscription directly into the store, bypassing Create.
func (env *testEnv) seed(t *testing.T, status subscription.Status, mutate func(*subscription.Subscription)) *subscription.Subscription {
	t.Helper()
	sub := &subscription.Subscription{
		ID:                 uuid.New(),
		UserID:             uuid.New(),
		PlanID:             "basic",
		PlanVersion:        1,
		BillingPeriod:      plan.PeriodMonthly,
		CurrentPeriodStart: env.now,
		CurrentPeriodEnd:   plan.PeriodMonthly.Add(env.now),
		CreatedAt:          env.now,
		UpdatedAt:          env.now,
		Revision:           1,
	}
	sub.Status = status
	sub.IsActive = status.IsActive()
	if mutate != nil {
		mutate(sub)
	}
	require.NoError(t, env.store.Create(context.Background(), sub))
	return sub
}

func TestService_Create(t *testing.T) {
	t.Parallel()

	t.Run("paid plan with synchronous charge activates", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		env := newTestEnv(t)
		userID := uuid.New()

		env.users.On("Exists", mock.Anything, userID).Return(true, nil)
		env.charger.On("Charge", mock.Anything, mock.MatchedBy(func(req subscription.ChargeRequest) bool {
			return req.UserID == userID &&
				req.Email == "user@example.com" &&
				req.Amount == money.MustNew(1299, "USD") &&
				req.Reason == subscription.ChargeNewSubscription
		})).Return(&subscription.ChargeResult{
			Outcome:   subscription.OutcomeSuccessful,
			Reference: "ref_123",
		}, nil)
		env.notifier.On("SendWelcome", mock.Anything, mock.Anything).Return(nil)

		result, err := env.svc.Create(ctx, subscription.CreateParams{
			UserID:        userID,
			PlanID:        "basic",
			BillingPeriod: plan.PeriodMonthly,
			Email:         "user@example.com",
		})
		require.NoError(t, err)

		sub := result.Subscription
		assert.Equal(t, subscription.StatusActive, sub.Status)
		assert.True(t, sub.IsActive)
		assert.Equal(t, "basic", sub.PlanID)
		assert.Equal(t, 2, sub.PlanVersion, "must pin the latest active version")
		assert.Equal(t, env.now, sub.CurrentPeriodStart)
		assert.Equal(t, env.now.AddDate(0, 1, 0), sub.CurrentPeriodEnd)
		assert.Equal(t, money.MustNew(1299, "USD"), sub.LastPaymentAmount)
		assert.Equal(t, "ref_123", result.Reference)

		env.charger.AssertExpectations(t)
		env.notifier.AssertExpectations(t)
	})

	t.Run("free plan activates without touching the gateway", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		env := newTestEnv(t)
		userID := uuid.New()

		env.users.On("Exists", mock.Anything, userID).Return(true, nil)
		env.notifier.On("SendWelcome", mock.Anything, mock.Anything).Return(nil)

		result, err := env.svc.Create(ctx, subscription.CreateParams{
			UserID:        userID,
			PlanID:        "free",
			BillingPeriod: plan.PeriodMonthly,
		})
		require.NoError(t, err)
		assert.Equal(t, subscription.StatusActive, result.Subscription.Status)
		assert.Empty(t, result.PaymentLink)
		assert.Nil(t, result.Subscription.LastPaymentAt)

		env.charger.AssertNotCalled(t, "Charge", mock.Anything, mock.Anything)
	})

	t.Run("link based charge stays pending", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		env := newTestEnv(t)
		userID := uuid.New()

		env.users.On("Exists", mock.Anything, userID).Return(true, nil)
		env.charger.On("Charge", mock.Anything, mock.Anything).Return(&subscription.ChargeResult{
			Outcome:     subscription.OutcomePending,
			Reference:   "ref_456",
			PaymentLink: "https://checkout.example.com/ref_456",
		}, nil)

		result, err := env.svc.Create(ctx, subscription.CreateParams{
			UserID:        userID,
			PlanID:        "pro",
			BillingPeriod: plan.PeriodMonthly,
			Email:         "user@example.com",
		})
		require.NoError(t, err)
		assert.Equal(t, subscription.StatusPending, result.Subscription.Status)
		assert.Equal(t, "https://checkout.example.com/ref_456", result.PaymentLink)

		env.notifier.AssertNotCalled(t, "SendWelcome", mock.Anything, mock.Anything)
	})

	t.Run("declined charge keeps the pending record", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		env := newTestEnv(t)
		userID := uuid.New()

		env.users.On("Exists", mock.Anything, userID).Return(true, nil)
		env.charger.On("Charge", mock.Anything, mock.Anything).Return(&subscription.ChargeResult{
			Outcome: subscription.OutcomeFailed,
		}, nil)

		_, err := env.svc.Create(ctx, subscription.CreateParams{
			UserID:        userID,
			PlanID:        "pro",
			BillingPeriod: plan.PeriodMonthly,
		})
		require.ErrorIs(t, err, subscription.ErrPaymentDeclined)

		// The pending record survives so the payment can be retried
		// without creating a second subscription.
		sub, err := env.store.GetByUser(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, subscription.StatusPending, sub.Status)
	})

	t.Run("gateway error keeps the pending record", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		env := newTestEnv(t)
		userID := uuid.New()

		env.users.On("Exists", mock.Anything, userID).Return(true, nil)
		env.charger.On("Charge", mock.Anything, mock.Anything).Return(nil, subscription.ErrPaymentGateway)

		_, err := env.svc.Create(ctx, subscription.CreateParams{
			UserID:        userID,
			PlanID:        "pro",
			BillingPeriod: plan.PeriodMonthly,
		})
		require.ErrorIs(t, err, subscription.ErrPaymentGateway)

		sub, err := env.store.GetByUser(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, subscription.StatusPending, sub.Status)
	})

	t.Run("unknown user", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t)
		userID := uuid.New()
		env.users.On("Exists", mock.Anything, userID).Return(false, nil)

		_, err := env.svc.Create(context.Background(), subscription.CreateParams{
			UserID:        userID,
			PlanID:        "basic",
			BillingPeriod: plan.PeriodMonthly,
		})
		assert.ErrorIs(t, err, subscription.ErrUserNotFound)
	})

	t.Run("unknown plan", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t)
		userID := uuid.New()
		env.users.On("Exists", mock.Anything, userID).Return(true, nil)

		_, err := env.svc.Create(context.Background(), subscription.CreateParams{
			UserID:        userID,
			PlanID:        "enterprise",
			BillingPeriod: plan.PeriodMonthly,
		})
		assert.ErrorIs(t, err, subscription.ErrPlanNotFound)
	})

	t.Run("invalid billing period", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t)

		_, err := env.svc.Create(context.Background(), subscription.CreateParams{
			UserID:        uuid.New(),
			PlanID:        "basic",
			BillingPeriod: plan.BillingPeriod("weekly"),
		})
		assert.ErrorIs(t, err, subscription.ErrInvalidBillingPeriod)
	})

	t.Run("second live subscription is rejected", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		env := newTestEnv(t)
		env.allowNotifications()
		userID := uuid.New()

		env.users.On("Exists", mock.Anything, userID).Return(true, nil)

		_, err := env.svc.Create(ctx, subscription.CreateParams{
			UserID:        userID,
			PlanID:        "free",
			BillingPeriod: plan.PeriodMonthly,
		})
		require.NoError(t, err)

		_, err = env.svc.Create(ctx, subscription.CreateParams{
			UserID:        userID,
			PlanID:        "basic",
			BillingPeriod: plan.PeriodMonthly,
		})
		assert.ErrorIs(t, err, subscription.ErrDuplicateActiveSubscription)
	})
}

func TestService_Activate(t *testing.T) {
	t.Parallel()

	t.Run("activates a pending subscription", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		env := newTestEnv(t)
		seeded := env.seed(t, subscription.StatusPending, nil)

		var notice subscription.Notice
		env.notifier.On("SendWelcome", mock.Anything, mock.Anything).
			Run(func(args mock.Arguments) { notice = args.Get(1).(subscription.Notice) }).
			Return(nil)

		paid := money.MustNew(999, "USD")
		sub, err := env.svc.Activate(ctx, seeded.ID, paid, env.now)
		require.NoError(t, err)

		assert.Equal(t, subscription.StatusActive, sub.Status)
		assert.True(t, sub.IsActive)
		require.NotNil(t, sub.LastPaymentAt)
		assert.Equal(t, env.now, *sub.LastPaymentAt)
		assert.Equal(t, paid, sub.LastPaymentAmount)
		assert.Equal(t, seeded.ID, notice.SubscriptionID)

		env.notifier.AssertExpectations(t)
	})

	t.Run("rejects non pending statuses", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		env := newTestEnv(t)
		seeded := env.seed(t, subscription.StatusActive, nil)

		_, err := env.svc.Activate(ctx, seeded.ID, money.MustNew(999, "USD"), env.now)
		assert.ErrorIs(t, err, subscription.ErrInvalidState)
	})

	t.Run("unknown subscription", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t)
		_, err := env.svc.Activate(context.Background(), uuid.New(), money.MustNew(999, "USD"), env.now)
		assert.ErrorIs(t, err, subscription.ErrSubscriptionNotFound)
	})
}

func TestService_ChangePlan(t *testing.T) {
	t.Parallel()

	// Periods in these tests run 2025-03-01 to 2025-04-01 (31 days).
	// The clock is moved to the exact midpoint so the remaining
	// fraction is exactly one half.
	midpoint := time.Date(2025, 3, 16, 12, 0, 0, 0, time.UTC)

	t.Run("upgrade charges the prorated difference", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		env := newTestEnv(t)
		seeded := env.seed(t, subscription.StatusActive, nil) // basic v1, $9.99 monthly
		env.now = midpoint

		env.charger.On("Charge", mock.Anything, mock.MatchedBy(func(req subscription.ChargeRequest) bool {
			// ($29.99 - $9.99) / 2 = $10.00
			return req.Amount == money.MustNew(1000, "USD") &&
				req.Reason == subscription.ChargeUpgrade &&
				req.SubscriptionID == seeded.ID
		})).Return(&subscription.ChargeResult{
			Outcome:   subscription.OutcomeSuccessful,
			Reference: "upg_1",
		}, nil)

		change, err := env.svc.ChangePlan(ctx, seeded.ID, "pro")
		require.NoError(t, err)

		assert.Equal(t, "pro", change.Subscription.PlanID)
		assert.Equal(t, 1, change.Subscription.PlanVersion)
		assert.True(t, change.Quote.IsUpgrade)
		assert.Equal(t, money.MustNew(1000, "USD"), change.Quote.Amount)
		assert.Equal(t, "upg_1", change.Reference)

		// The billing anchor must not move.
		assert.Equal(t, seeded.CurrentPeriodStart, change.Subscription.CurrentPeriodStart)
		assert.Equal(t, seeded.CurrentPeriodEnd, change.Subscription.CurrentPeriodEnd)

		env.charger.AssertExpectations(t)
	})

	t.Run("downgrade records a credit without charging", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		env := newTestEnv(t)
		seeded := env.seed(t, subscription.StatusActive, func(s *subscription.Subscription) {
			s.PlanID = "pro"
		})
		env.now = midpoint

		env.charger.On("Credit", mock.Anything, mock.MatchedBy(func(req subscription.CreditRequest) bool {
			// ($12.99 - $29.99) / 2 = -$8.50, credited as a positive value
			return req.Amount == money.MustNew(850, "USD") && req.SubscriptionID == seeded.ID
		})).Return(&subscription.ChargeResult{Reference: "cr_1"}, nil)

		change, err := env.svc.ChangePlan(ctx, seeded.ID, "basic")
		require.NoError(t, err)

		assert.Equal(t, "basic", change.Subscription.PlanID)
		assert.Equal(t, 2, change.Subscription.PlanVersion, "downgrade lands on the latest active version")
		assert.False(t, change.Quote.IsUpgrade)
		assert.Equal(t, "cr_1", change.Reference)

		env.charger.AssertExpectations(t)
		env.charger.AssertNotCalled(t, "Charge", mock.Anything, mock.Anything)
	})

	t.Run("old leg is priced at the pinned version", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		env := newTestEnv(t)
		// Subscribed on basic v1 at $9.99 while the catalog has since
		// published v2 at $12.99. The unused credit must come from v1.
		seeded := env.seed(t, subscription.StatusActive, nil)
		env.now = midpoint

		env.charger.On("Charge", mock.Anything, mock.MatchedBy(func(req subscription.ChargeRequest) bool {
			return req.Amount == money.MustNew(1000, "USD")
		})).Return(&subscription.ChargeResult{Outcome: subscription.OutcomeSuccessful}, nil)

		change, err := env.svc.ChangePlan(ctx, seeded.ID, "pro")
		require.NoError(t, err)
		assert.Equal(t, money.MustNew(500, "USD"), change.Quote.UnusedCredit)
	})

	t.Run("declined upgrade leaves the plan untouched", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		env := newTestEnv(t)
		seeded := env.seed(t, subscription.StatusActive, nil)
		env.now = midpoint

		env.charger.On("Charge", mock.Anything, mock.Anything).Return(&subscription.ChargeResult{
			Outcome: subscription.OutcomeFailed,
		}, nil)

		_, err := env.svc.ChangePlan(ctx, seeded.ID, "pro")
		require.ErrorIs(t, err, subscription.ErrPaymentDeclined)

		current, err := env.store.Get(ctx, seeded.ID)
		require.NoError(t, err)
		assert.Equal(t, "basic", current.PlanID)
		assert.Equal(t, 1, current.PlanVersion)
	})

	t.Run("grace subscriptions may change plans", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		env := newTestEnv(t)
		deadline := env.now.Add(48 * time.Hour)
		seeded := env.seed(t, subscription.StatusGrace, func(s *subscription.Subscription) {
			s.GracePeriodEnd = &deadline
			s.FailedPaymentAttempts = 1
		})
		env.now = midpoint

		env.charger.On("Charge", mock.Anything, mock.Anything).Return(&subscription.ChargeResult{
			Outcome: subscription.OutcomeSuccessful,
		}, nil)

		change, err := env.svc.ChangePlan(ctx, seeded.ID, "pro")
		require.NoError(t, err)
		assert.Equal(t, subscription.StatusGrace, change.Subscription.Status, "plan change does not resolve dunning")
	})

	t.Run("terminal subscription is rejected", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t)
		seeded := env.seed(t, subscription.StatusCancelled, nil)

		_, err := env.svc.ChangePlan(context.Background(), seeded.ID, "pro")
		assert.ErrorIs(t, err, subscription.ErrInvalidState)
	})

	t.Run("equal price nets zero and skips the gateway", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		env := newTestEnv(t)
		seeded := env.seed(t, subscription.StatusActive, func(s *subscription.Subscription) {
			s.PlanID = "pro"
		})
		env.now = midpoint

		change, err := env.svc.ChangePlan(ctx, seeded.ID, "pro")
		require.NoError(t, err)
		assert.True(t, change.Quote.Amount.IsZero())

		env.charger.AssertNotCalled(t, "Charge", mock.Anything, mock.Anything)
		env.charger.AssertNotCalled(t, "Credit", mock.Anything, mock.Anything)
	})
}

func TestService_Cancel(t *testing.T) {
	t.Parallel()

	t.Run("deferred cancel flags without ending access", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		env := newTestEnv(t)
		env.allowNotifications()
		seeded := env.seed(t, subscription.StatusActive, nil)

		sub, err := env.svc.Cancel(ctx, seeded.ID, subscription.CancelParams{Reason: "too expensive"})
		require.NoError(t, err)

		assert.Equal(t, subscription.StatusActive, sub.Status)
		assert.True(t, sub.IsActive)
		assert.True(t, sub.CancelAtPeriodEnd)
		assert.Nil(t, sub.CancelledAt)
	})

	t.Run("deferred cancel twice is invalid", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		env := newTestEnv(t)
		env.allowNotifications()
		seeded := env.seed(t, subscription.StatusActive, nil)

		_, err := env.svc.Cancel(ctx, seeded.ID, subscription.CancelParams{})
		require.NoError(t, err)

		_, err = env.svc.Cancel(ctx, seeded.ID, subscription.CancelParams{})
		assert.ErrorIs(t, err, subscription.ErrInvalidState)
	})

	t.Run("deferred cancel requires active status", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t)
		deadline := env.now.Add(time.Hour)
		seeded := env.seed(t, subscription.StatusGrace, func(s *subscription.Subscription) {
			s.GracePeriodEnd = &deadline
		})

		_, err := env.svc.Cancel(context.Background(), seeded.ID, subscription.CancelParams{})
		assert.ErrorIs(t, err, subscription.ErrInvalidState)
	})

	t.Run("immediate cancel transitions right away", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		env := newTestEnv(t)
		seeded := env.seed(t, subscription.StatusActive, nil)

		var notice subscription.Notice
		env.notifier.On("SendCancellation", mock.Anything, mock.Anything).
			Run(func(args mock.Arguments) { notice = args.Get(1).(subscription.Notice) }).
			Return(nil)

		sub, err := env.svc.Cancel(ctx, seeded.ID, subscription.CancelParams{Immediate: true, Reason: "fraud"})
		require.NoError(t, err)

		assert.Equal(t, subscription.StatusCancelled, sub.Status)
		assert.False(t, sub.IsActive)
		require.NotNil(t, sub.CancelledAt)
		assert.Equal(t, env.now, *sub.CancelledAt)
		assert.Equal(t, "fraud", notice.Reason)
	})

	t.Run("immediate cancel works from grace", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t)
		env.allowNotifications()
		deadline := env.now.Add(time.Hour)
		seeded := env.seed(t, subscription.StatusGrace, func(s *subscription.Subscription) {
			s.GracePeriodEnd = &deadline
		})

		sub, err := env.svc.Cancel(context.Background(), seeded.ID, subscription.CancelParams{Immediate: true})
		require.NoError(t, err)
		assert.Equal(t, subscription.StatusCancelled, sub.Status)
	})

	t.Run("immediate cancel overrides a deferred request", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		env := newTestEnv(t)
		env.allowNotifications()
		seeded := env.seed(t, subscription.StatusActive, nil)

		_, err := env.svc.Cancel(ctx, seeded.ID, subscription.CancelParams{})
		require.NoError(t, err)

		sub, err := env.svc.Cancel(ctx, seeded.ID, subscription.CancelParams{Immediate: true})
		require.NoError(t, err)
		assert.Equal(t, subscription.StatusCancelled, sub.Status)
	})

	t.Run("cancelling twice is invalid", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		env := newTestEnv(t)
		env.allowNotifications()
		seeded := env.seed(t, subscription.StatusActive, nil)

		_, err := env.svc.Cancel(ctx, seeded.ID, subscription.CancelParams{Immediate: true})
		require.NoError(t, err)

		_, err = env.svc.Cancel(ctx, seeded.ID, subscription.CancelParams{Immediate: true})
		assert.ErrorIs(t, err, subscription.ErrInvalidState)
	})
}

func TestService_ProcessRenewal(t *testing.T) {
	t.Parallel()

	success := func(env *testEnv) subscription.RenewalOutcome {
		return subscription.RenewalOutcome{
			Result: subscription.OutcomeSuccessful,
			Amount: money.MustNew(999, "USD"),
			PaidAt: env.now,
		}
	}
	failure := subscription.RenewalOutcome{Result: subscription.OutcomeFailed}

	t.Run("success rolls the period from its old end", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		env := newTestEnv(t)
		env.allowNotifications()
		seeded := env.seed(t, subscription.StatusActive, nil)
		oldEnd := seeded.CurrentPeriodEnd

		// The sweep runs two days late; the anchor must not drift.
		env.now = oldEnd.Add(48 * time.Hour)

		sub, err := env.svc.ProcessRenewal(ctx, seeded.ID, success(env))
		require.NoError(t, err)

		assert.Equal(t, oldEnd, sub.CurrentPeriodStart)
		assert.Equal(t, oldEnd.AddDate(0, 1, 0), sub.CurrentPeriodEnd)
		assert.Equal(t, subscription.StatusActive, sub.Status)
		assert.Zero(t, sub.FailedPaymentAttempts)
		assert.Nil(t, sub.GracePeriodEnd)
	})

	t.Run("success recovers a grace subscription", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		env := newTestEnv(t)
		env.allowNotifications()
		deadline := env.now.Add(24 * time.Hour)
		seeded := env.seed(t, subscription.StatusGrace, func(s *subscription.Subscription) {
			s.GracePeriodEnd = &deadline
			s.FailedPaymentAttempts = 2
		})

		sub, err := env.svc.ProcessRenewal(ctx, seeded.ID, success(env))
		require.NoError(t, err)

		assert.Equal(t, subscription.StatusActive, sub.Status)
		assert.Zero(t, sub.FailedPaymentAttempts)
		assert.Nil(t, sub.GracePeriodEnd)
	})

	t.Run("first failure opens the grace window", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		env := newTestEnv(t)
		seeded := env.seed(t, subscription.StatusActive, nil)

		var notice subscription.Notice
		env.notifier.On("SendPaymentFailed", mock.Anything, mock.Anything).
			Run(func(args mock.Arguments) { notice = args.Get(1).(subscription.Notice) }).
			Return(nil)

		sub, err := env.svc.ProcessRenewal(ctx, seeded.ID, failure)
		require.NoError(t, err)

		assert.Equal(t, subscription.StatusGrace, sub.Status)
		assert.True(t, sub.IsActive, "grace keeps access")
		assert.Equal(t, 1, sub.FailedPaymentAttempts)
		require.NotNil(t, sub.GracePeriodEnd)
		assert.Equal(t, env.now.Add(72*time.Hour), *sub.GracePeriodEnd)
		assert.Equal(t, seeded.ID, notice.SubscriptionID)
	})

	t.Run("repeat failures never extend the deadline", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		env := newTestEnv(t)
		env.allowNotifications()
		seeded := env.seed(t, subscription.StatusActive, nil)

		first, err := env.svc.ProcessRenewal(ctx, seeded.ID, failure)
		require.NoError(t, err)
		deadline := *first.GracePeriodEnd

		env.now = env.now.Add(24 * time.Hour)
		second, err := env.svc.ProcessRenewal(ctx, seeded.ID, failure)
		require.NoError(t, err)

		assert.Equal(t, subscription.StatusGrace, second.Status)
		assert.Equal(t, 2, second.FailedPaymentAttempts)
		assert.Equal(t, deadline, *second.GracePeriodEnd)
	})

	t.Run("exhausted attempts clamp the deadline to now", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		env := newTestEnv(t, subscription.WithGracePolicy(subscription.GracePolicy{
			Window:            72 * time.Hour,
			MaxFailedAttempts: 2,
		}))
		env.allowNotifications()
		seeded := env.seed(t, subscription.StatusActive, nil)

		_, err := env.svc.ProcessRenewal(ctx, seeded.ID, failure)
		require.NoError(t, err)

		env.now = env.now.Add(24 * time.Hour)
		sub, err := env.svc.ProcessRenewal(ctx, seeded.ID, failure)
		require.NoError(t, err)

		// Still grace: expiry happens only through CheckGraceExpiry.
		assert.Equal(t, subscription.StatusGrace, sub.Status)
		require.NotNil(t, sub.GracePeriodEnd)
		assert.Equal(t, env.now, *sub.GracePeriodEnd)

		expired, err := env.svc.CheckGraceExpiry(ctx, seeded.ID)
		require.NoError(t, err)
		assert.Equal(t, subscription.StatusExpired, expired.Status)
	})

	t.Run("pending outcome changes nothing", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		env := newTestEnv(t)
		seeded := env.seed(t, subscription.StatusActive, nil)

		sub, err := env.svc.ProcessRenewal(ctx, seeded.ID, subscription.RenewalOutcome{
			Result: subscription.OutcomePending,
		})
		require.NoError(t, err)

		assert.Equal(t, subscription.StatusActive, sub.Status)
		assert.Equal(t, seeded.CurrentPeriodEnd, sub.CurrentPeriodEnd)
		assert.Zero(t, sub.FailedPaymentAttempts)
		env.notifier.AssertNotCalled(t, "SendPaymentFailed", mock.Anything, mock.Anything)
	})

	t.Run("pending subscriptions cannot renew", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t)
		seeded := env.seed(t, subscription.StatusPending, nil)

		_, err := env.svc.ProcessRenewal(context.Background(), seeded.ID, failure)
		assert.ErrorIs(t, err, subscription.ErrInvalidState)
	})

	t.Run("terminal subscriptions cannot renew", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t)
		seeded := env.seed(t, subscription.StatusExpired, nil)

		_, err := env.svc.ProcessRenewal(context.Background(), seeded.ID, failure)
		assert.ErrorIs(t, err, subscription.ErrInvalidState)
	})
}

func TestService_CheckGraceExpiry(t *testing.T) {
	t.Parallel()

	t.Run("expires once the deadline passes", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		env := newTestEnv(t)
		deadline := env.now.Add(-time.Minute)
		seeded := env.seed(t, subscription.StatusGrace, func(s *subscription.Subscription) {
			s.GracePeriodEnd = &deadline
			s.FailedPaymentAttempts = 3
		})

		var notice subscription.Notice
		env.notifier.On("SendExpired", mock.Anything, mock.Anything).
			Run(func(args mock.Arguments) { notice = args.Get(1).(subscription.Notice) }).
			Return(nil)

		sub, err := env.svc.CheckGraceExpiry(ctx, seeded.ID)
		require.NoError(t, err)

		assert.Equal(t, subscription.StatusExpired, sub.Status)
		assert.False(t, sub.IsActive)
		require.NotNil(t, sub.ExpiredAt)
		assert.Equal(t, env.now, *sub.ExpiredAt)
		assert.Equal(t, seeded.ID, notice.SubscriptionID)
	})

	t.Run("future deadline is left alone", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t)
		deadline := env.now.Add(time.Hour)
		seeded := env.seed(t, subscription.StatusGrace, func(s *subscription.Subscription) {
			s.GracePeriodEnd = &deadline
		})

		sub, err := env.svc.CheckGraceExpiry(context.Background(), seeded.ID)
		require.NoError(t, err)
		assert.Equal(t, subscription.StatusGrace, sub.Status)
		env.notifier.AssertNotCalled(t, "SendExpired", mock.Anything, mock.Anything)
	})

	t.Run("non grace statuses are left alone", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t)
		seeded := env.seed(t, subscription.StatusActive, nil)

		sub, err := env.svc.CheckGraceExpiry(context.Background(), seeded.ID)
		require.NoError(t, err)
		assert.Equal(t, subscription.StatusActive, sub.Status)
	})
}

func TestService_NotificationFailuresAreSwallowed(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	env := newTestEnv(t)
	seeded := env.seed(t, subscription.StatusActive, nil)

	env.notifier.On("SendCancellation", mock.Anything, mock.Anything).
		Return(errors.New("smtp down"))

	sub, err := env.svc.Cancel(ctx, seeded.ID, subscription.CancelParams{Immediate: true})
	require.NoError(t, err, "notification failure must not fail the operation")
	assert.Equal(t, subscription.StatusCancelled, sub.Status)
}

func TestNewService_PanicsOnMissingDependencies(t *testing.T) {
	t.Parallel()

	users := &mockUsers{}
	charger := &mockCharger{}
	notifier := &mockNotifier{}
	store := subscription.NewMemoryStore()
	catalog := testCatalog(t)

	assert.Panics(t, func() { subscription.NewService(nil, catalog, store, charger, notifier) })
	assert.Panics(t, func() { subscription.NewService(users, nil, store, charger, notifier) })
	assert.Panics(t, func() { subscription.NewService(users, catalog, nil, charger, notifier) })
	assert.Panics(t, func() { subscription.NewService(users, catalog, store, nil, notifier) })
	assert.Panics(t, func() { subscription.NewService(users, catalog, store, charger, nil) })
}
