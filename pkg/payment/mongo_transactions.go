package payment

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
)

const transactionCollection = "transactions"

// MongoTransactionStore implements TransactionStore on MongoDB.
// Settlement atomicity comes from FindOneAndUpdate filtered on
// {reference, status: pending}: only one caller can flip the row.
type MongoTransactionStore struct {
	coll *mongo.Collection
}

// NewMongoTransactionStore creates a ledger store on the given database.
func NewMongoTransactionStore(db *mongo.Database) *MongoTransactionStore {
	if db == nil {
		panic("payment: mongo database is required")
	}
	return &MongoTransactionStore{coll: db.Collection(transactionCollection)}
}

// EnsureIndexes creates the ledger indexes. The unique reference index
// backs Create's duplicate detection.
func (s *MongoTransactionStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "reference", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("reference_unique"),
		},
		{
			Keys:    bson.D{{Key: "subscription_id", Value: 1}, {Key: "created_at", Value: -1}},
			Options: options.Index().SetName("subscription_history"),
		},
		{
			Keys:    bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: 1}},
			Options: options.Index().SetName("pending_scan"),
		},
	})
	if err != nil {
		return fmt.Errorf("create transaction indexes: %w", err)
	}
	return nil
}

func (s *MongoTransactionStore) Create(ctx context.Context, tx *Transaction) error {
	if _, err := s.coll.InsertOne(ctx, toTransactionDoc(tx)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicateReference
		}
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

func (s *MongoTransactionStore) GetByReference(ctx context.Context, reference string) (*Transaction, error) {
	var doc transactionDoc
	err := s.coll.FindOne(ctx, bson.M{"reference": reference}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrTransactionNotFound
		}
		return nil, fmt.Errorf("find transaction: %w", err)
	}
	return toTransaction(&doc)
}

func (s *MongoTransactionStore) Settle(ctx context.Context, reference string, status TransactionStatus, gatewayRef, errMsg string, processedAt time.Time) (*Transaction, error) {
	var doc transactionDoc
	err := s.coll.FindOneAndUpdate(ctx,
		bson.M{"reference": reference, "status": string(TxPending)},
		bson.M{"$set": bson.M{
			"status":       string(status),
			"gateway_ref":  gatewayRef,
			"error":        errMsg,
			"processed_at": processedAt.UTC(),
		}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		if !errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("settle transaction: %w", err)
		}
		// No pending row matched: either the reference is unknown or a
		// concurrent settlement already finalized it.
		n, countErr := s.coll.CountDocuments(ctx, bson.M{"reference": reference})
		if countErr != nil {
			return nil, fmt.Errorf("settle transaction: %w", countErr)
		}
		if n == 0 {
			return nil, ErrTransactionNotFound
		}
		return nil, ErrAlreadySettled
	}
	return toTransaction(&doc)
}

func (s *MongoTransactionStore) ListBySubscription(ctx context.Context, subscriptionID uuid.UUID, limit int) ([]*Transaction, error) {
	return s.list(ctx,
		bson.M{"subscription_id": subscriptionID.String()},
		bson.D{{Key: "created_at", Value: -1}},
		limit,
	)
}

func (s *MongoTransactionStore) ListPendingOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]*Transaction, error) {
	return s.list(ctx,
		bson.M{"status": string(TxPending), "created_at": bson.M{"$lte": cutoff.UTC()}},
		bson.D{{Key: "created_at", Value: 1}},
		limit,
	)
}

func (s *MongoTransactionStore) list(ctx context.Context, filter bson.M, sort bson.D, limit int) ([]*Transaction, error) {
	opts := options.Find().SetSort(sort)
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cursor, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	var docs []transactionDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode transactions: %w", err)
	}
	txs := make([]*Transaction, 0, len(docs))
	for i := range docs {
		tx, err := toTransaction(&docs[i])
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

// transactionDoc is the BSON shape of a ledger entry. UUIDs are stored
// as strings and money is flattened, matching the subscriptions
// collection conventions.
type transactionDoc struct {
	ID             string     `bson:"_id"`
	UserID         string     `bson:"user_id"`
	SubscriptionID string     `bson:"subscription_id"`
	Amount         int64      `bson:"amount"`
	Currency       string     `bson:"currency"`
	Status         string     `bson:"status"`
	Type           string     `bson:"type"`
	Reference      string     `bson:"reference"`
	GatewayRef     string     `bson:"gateway_ref,omitempty"`
	Error          string     `bson:"error,omitempty"`
	ProcessedAt    *time.Time `bson:"processed_at,omitempty"`
	CreatedAt      time.Time  `bson:"created_at"`
}

func toTransactionDoc(tx *Transaction) *transactionDoc {
	return &transactionDoc{
		ID:             tx.ID.String(),
		UserID:         tx.UserID.String(),
		SubscriptionID: tx.SubscriptionID.String(),
		Amount:         tx.Amount.Amount,
		Currency:       tx.Amount.Currency,
		Status:         string(tx.Status),
		Type:           string(tx.Type),
		Reference:      tx.Reference,
		GatewayRef:     tx.GatewayRef,
		Error:          tx.Error,
		ProcessedAt:    utcTimePtr(tx.ProcessedAt),
		CreatedAt:      tx.CreatedAt.UTC(),
	}
}

func toTransaction(doc *transactionDoc) (*Transaction, error) {
	id, err := uuid.Parse(doc.ID)
	if err != nil {
		return nil, fmt.Errorf("parse transaction id: %w", err)
	}
	userID, err := uuid.Parse(doc.UserID)
	if err != nil {
		return nil, fmt.Errorf("parse transaction user id: %w", err)
	}
	subID, err := uuid.Parse(doc.SubscriptionID)
	if err != nil {
		return nil, fmt.Errorf("parse transaction subscription id: %w", err)
	}
	return &Transaction{
		ID:             id,
		UserID:         userID,
		SubscriptionID: subID,
		Amount:         money.Money{Amount: doc.Amount, Currency: doc.Currency},
		Status:         TransactionStatus(doc.Status),
		Type:           TransactionType(doc.Type),
		Reference:      doc.Reference,
		GatewayRef:     doc.GatewayRef,
		Error:          doc.Error,
		ProcessedAt:    doc.ProcessedAt,
		CreatedAt:      doc.CreatedAt,
	}, nil
}

func utcTimePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
