package account

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const accountsCollection = "billing_accounts"

// MongoDirectory keeps the projection in a MongoDB collection. The user ID
// doubles as the document _id, so uniqueness needs no extra index and
// Upsert is a single UpdateOne with upsert semantics.
type MongoDirectory struct {
	coll *mongo.Collection
}

// NewMongoDirectory creates a directory bound to the billing_accounts
// collection of the given database.
func NewMongoDirectory(db *mongo.Database) *MongoDirectory {
	if db == nil {
		panic("account: mongo database is required")
	}
	return &MongoDirectory{coll: db.Collection(accountsCollection)}
}

// accountDoc is the persisted shape. The UUID is stored as a string to
// keep documents readable in shell queries and dumps.
type accountDoc struct {
	UserID    string    `bson:"_id"`
	Email     string    `bson:"email"`
	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}

func (d accountDoc) toAccount() (*Account, error) {
	userID, err := uuid.Parse(d.UserID)
	if err != nil {
		return nil, fmt.Errorf("parse account user id %q: %w", d.UserID, err)
	}
	return &Account{
		UserID:    userID,
		Email:     d.Email,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}, nil
}

// Upsert records or refreshes the projection for one user.
func (d *MongoDirectory) Upsert(ctx context.Context, userID uuid.UUID, email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return ErrEmptyEmail
	}

	now := time.Now().UTC()
	_, err := d.coll.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: userID.String()}},
		bson.D{
			{Key: "$set", Value: bson.D{
				{Key: "email", Value: email},
				{Key: "updated_at", Value: now},
			}},
			{Key: "$setOnInsert", Value: bson.D{
				{Key: "created_at", Value: now},
			}},
		},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("upsert account: %w", err)
	}
	return nil
}

// Get returns the full projection for one user.
func (d *MongoDirectory) Get(ctx context.Context, userID uuid.UUID) (*Account, error) {
	var doc accountDoc
	err := d.coll.FindOne(ctx, bson.D{{Key: "_id", Value: userID.String()}}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("find account: %w", err)
	}
	return doc.toAccount()
}

// Email resolves a user ID to the address notifications should go to.
func (d *MongoDirectory) Email(ctx context.Context, userID uuid.UUID) (string, error) {
	acc, err := d.Get(ctx, userID)
	if err != nil {
		return "", err
	}
	return acc.Email, nil
}

// Exists reports whether a projection is present for the user.
func (d *MongoDirectory) Exists(ctx context.Context, userID uuid.UUID) (bool, error) {
	n, err := d.coll.CountDocuments(ctx, bson.D{{Key: "_id", Value: userID.String()}})
	if err != nil {
		return false, fmt.Errorf("count accounts: %w", err)
	}
	return n > 0, nil
}
