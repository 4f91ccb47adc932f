package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/dmitrymomot/billingkit/pkg/money"
	"github.com/dmitrymomot/billingkit/pkg/plan"
)

const subscriptionsCollection = "subscriptions"

// MongoStore implements Store on a MongoDB collection.
//
// The one-non-terminal-subscription-per-user invariant is enforced by a
// partial unique index on user_id filtered to non-terminal statuses, so
// Create is a single constrained insert. Update is a ReplaceOne
// conditioned on {_id, revision}, which MongoDB applies atomically per
// document.
type MongoStore struct {
	coll *mongo.Collection
}

// NewMongoStore creates a store bound to the subscriptions collection
// of the given database. Call EnsureIndexes once during startup.
func NewMongoStore(db *mongo.Database) *MongoStore {
	if db == nil {
		panic("subscription: mongo database is required")
	}
	return &MongoStore{coll: db.Collection(subscriptionsCollection)}
}

// EnsureIndexes builds the indexes the store depends on. The partial
// unique index is load-bearing for correctness, not a performance
// tweak: without it Create loses its atomicity guarantee.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	nonTerminal := make([]string, 0, 3)
	for _, st := range NonTerminalStatuses() {
		nonTerminal = append(nonTerminal, string(st))
	}

	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "user_id", Value: 1}},
			Options: options.Index().
				SetName("one_nonterminal_subscription_per_user").
				SetUnique(true).
				SetPartialFilterExpression(bson.D{
					{Key: "status", Value: bson.D{{Key: "$in", Value: nonTerminal}}},
				}),
		},
		{
			Keys:    bson.D{{Key: "status", Value: 1}, {Key: "current_period_end", Value: 1}},
			Options: options.Index().SetName("renewals_due"),
		},
		{
			Keys:    bson.D{{Key: "status", Value: 1}, {Key: "grace_period_end", Value: 1}},
			Options: options.Index().SetName("grace_expiry"),
		},
	})
	if err != nil {
		return fmt.Errorf("create subscription indexes: %w", err)
	}
	return nil
}

func (s *MongoStore) Create(ctx context.Context, sub *Subscription) error {
	_, err := s.coll.InsertOne(ctx, toSubscriptionDoc(sub))
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicateActiveSubscription
		}
		return fmt.Errorf("insert subscription: %w", err)
	}
	return nil
}

func (s *MongoStore) Get(ctx context.Context, id uuid.UUID) (*Subscription, error) {
	var doc subscriptionDoc
	err := s.coll.FindOne(ctx, bson.D{{Key: "_id", Value: id.String()}}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("find subscription: %w", err)
	}
	return doc.toSubscription()
}

func (s *MongoStore) GetByUser(ctx context.Context, userID uuid.UUID) (*Subscription, error) {
	filter := bson.D{
		{Key: "user_id", Value: userID.String()},
		{Key: "status", Value: bson.D{{Key: "$in", Value: nonTerminalStrings()}}},
	}
	var doc subscriptionDoc
	err := s.coll.FindOne(ctx, filter).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("find subscription by user: %w", err)
	}
	return doc.toSubscription()
}

func (s *MongoStore) Update(ctx context.Context, sub *Subscription) error {
	replacement := toSubscriptionDoc(sub)
	replacement.Revision = sub.Revision + 1

	res, err := s.coll.ReplaceOne(ctx, bson.D{
		{Key: "_id", Value: sub.ID.String()},
		{Key: "revision", Value: sub.Revision},
	}, replacement)
	if err != nil {
		return fmt.Errorf("update subscription: %w", err)
	}
	if res.MatchedCount == 0 {
		// Either the document is gone or another writer got there first.
		n, err := s.coll.CountDocuments(ctx, bson.D{{Key: "_id", Value: sub.ID.String()}})
		if err != nil {
			return fmt.Errorf("update subscription: %w", err)
		}
		if n == 0 {
			return ErrSubscriptionNotFound
		}
		return ErrConflict
	}
	sub.Revision++
	return nil
}

func (s *MongoStore) ListRenewalsDue(ctx context.Context, asOf time.Time, limit int) ([]*Subscription, error) {
	filter := bson.D{
		{Key: "status", Value: bson.D{{Key: "$in", Value: []string{string(StatusActive), string(StatusGrace)}}}},
		{Key: "current_period_end", Value: bson.D{{Key: "$lte", Value: asOf}}},
	}
	return s.list(ctx, filter, bson.D{{Key: "current_period_end", Value: 1}}, limit)
}

func (s *MongoStore) ListGraceExpired(ctx context.Context, asOf time.Time, limit int) ([]*Subscription, error) {
	filter := bson.D{
		{Key: "status", Value: string(StatusGrace)},
		{Key: "grace_period_end", Value: bson.D{{Key: "$lte", Value: asOf}}},
	}
	return s.list(ctx, filter, bson.D{{Key: "grace_period_end", Value: 1}}, limit)
}

func (s *MongoStore) ListRenewingSoon(ctx context.Context, from, to time.Time, limit int) ([]*Subscription, error) {
	filter := bson.D{
		{Key: "status", Value: string(StatusActive)},
		{Key: "cancel_at_period_end", Value: false},
		{Key: "current_period_end", Value: bson.D{
			{Key: "$gte", Value: from},
			{Key: "$lt", Value: to},
		}},
	}
	return s.list(ctx, filter, bson.D{{Key: "current_period_end", Value: 1}}, limit)
}

func (s *MongoStore) list(ctx context.Context, filter, sortBy bson.D, limit int) ([]*Subscription, error) {
	opts := options.Find().SetSort(sortBy)
	if limit > 0 {
		opts = opts.SetLimit(int64(limit))
	}
	cursor, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	var docs []subscriptionDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode subscriptions: %w", err)
	}
	subs := make([]*Subscription, 0, len(docs))
	for _, doc := range docs {
		sub, err := doc.toSubscription()
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

func nonTerminalStrings() []string {
	out := make([]string, 0, 3)
	for _, st := range NonTerminalStatuses() {
		out = append(out, string(st))
	}
	return out
}

// subscriptionDoc is the persisted shape. UUIDs are stored as strings
// to keep documents readable in shell queries and dumps.
type subscriptionDoc struct {
	ID                    string     `bson:"_id"`
	UserID                string     `bson:"user_id"`
	PlanID                string     `bson:"plan_id"`
	PlanVersion           int        `bson:"plan_version"`
	BillingPeriod         string     `bson:"billing_period"`
	Status                string     `bson:"status"`
	IsActive              bool       `bson:"is_active"`
	CurrentPeriodStart    time.Time  `bson:"current_period_start"`
	CurrentPeriodEnd      time.Time  `bson:"current_period_end"`
	CancelAtPeriodEnd     bool       `bson:"cancel_at_period_end"`
	CancelledAt           *time.Time `bson:"cancelled_at,omitempty"`
	LastPaymentAt         *time.Time `bson:"last_payment_at,omitempty"`
	LastPaymentAmount     int64      `bson:"last_payment_amount"`
	LastPaymentCurrency   string     `bson:"last_payment_currency,omitempty"`
	FailedPaymentAttempts int        `bson:"failed_payment_attempts"`
	GracePeriodEnd        *time.Time `bson:"grace_period_end,omitempty"`
	ExpiredAt             *time.Time `bson:"expired_at,omitempty"`
	CreatedAt             time.Time  `bson:"created_at"`
	UpdatedAt             time.Time  `bson:"updated_at"`
	Revision              int64      `bson:"revision"`
}

func toSubscriptionDoc(sub *Subscription) subscriptionDoc {
	return subscriptionDoc{
		ID:                    sub.ID.String(),
		UserID:                sub.UserID.String(),
		PlanID:                sub.PlanID,
		PlanVersion:           sub.PlanVersion,
		BillingPeriod:         string(sub.BillingPeriod),
		Status:                string(sub.Status),
		IsActive:              sub.IsActive,
		CurrentPeriodStart:    sub.CurrentPeriodStart.UTC(),
		CurrentPeriodEnd:      sub.CurrentPeriodEnd.UTC(),
		CancelAtPeriodEnd:     sub.CancelAtPeriodEnd,
		CancelledAt:           utcTime(sub.CancelledAt),
		LastPaymentAt:         utcTime(sub.LastPaymentAt),
		LastPaymentAmount:     sub.LastPaymentAmount.Amount,
		LastPaymentCurrency:   sub.LastPaymentAmount.Currency,
		FailedPaymentAttempts: sub.FailedPaymentAttempts,
		GracePeriodEnd:        utcTime(sub.GracePeriodEnd),
		ExpiredAt:             utcTime(sub.ExpiredAt),
		CreatedAt:             sub.CreatedAt.UTC(),
		UpdatedAt:             sub.UpdatedAt.UTC(),
		Revision:              sub.Revision,
	}
}

func (d subscriptionDoc) toSubscription() (*Subscription, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, fmt.Errorf("parse subscription id %q: %w", d.ID, err)
	}
	userID, err := uuid.Parse(d.UserID)
	if err != nil {
		return nil, fmt.Errorf("parse subscription user id %q: %w", d.UserID, err)
	}
	return &Subscription{
		ID:                    id,
		UserID:                userID,
		PlanID:                d.PlanID,
		PlanVersion:           d.PlanVersion,
		BillingPeriod:         plan.BillingPeriod(d.BillingPeriod),
		Status:                Status(d.Status),
		IsActive:              d.IsActive,
		CurrentPeriodStart:    d.CurrentPeriodStart,
		CurrentPeriodEnd:      d.CurrentPeriodEnd,
		CancelAtPeriodEnd:     d.CancelAtPeriodEnd,
		CancelledAt:           d.CancelledAt,
		LastPaymentAt:         d.LastPaymentAt,
		LastPaymentAmount:     money.Money{Amount: d.LastPaymentAmount, Currency: d.LastPaymentCurrency},
		FailedPaymentAttempts: d.FailedPaymentAttempts,
		GracePeriodEnd:        d.GracePeriodEnd,
		ExpiredAt:             d.ExpiredAt,
		CreatedAt:             d.CreatedAt,
		UpdatedAt:             d.UpdatedAt,
		Revision:              d.Revision,
	}, nil
}

func utcTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
