package account

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// StaticDirectory holds the projection in process memory. It exists for
// tests and single-node development setups where wiring a database for a
// handful of known users is not worth the trouble.
type StaticDirectory struct {
	mu       sync.RWMutex
	accounts map[uuid.UUID]Account
	now      func() time.Time
}

// NewStaticDirectory creates a directory pre-populated from a user-to-email
// map. Pass nil to start empty and fill it with Upsert.
func NewStaticDirectory(emails map[uuid.UUID]string) *StaticDirectory {
	d := &StaticDirectory{
		accounts: make(map[uuid.UUID]Account, len(emails)),
		now:      time.Now,
	}
	for userID, email := range emails {
		d.accounts[userID] = Account{
			UserID:    userID,
			Email:     email,
			CreatedAt: d.now(),
			UpdatedAt: d.now(),
		}
	}
	return d
}

// Upsert records or refreshes the projection for one user.
func (d *StaticDirectory) Upsert(_ context.Context, userID uuid.UUID, email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return ErrEmptyEmail
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	acc, ok := d.accounts[userID]
	if !ok {
		acc = Account{UserID: userID, CreatedAt: d.now()}
	}
	acc.Email = email
	acc.UpdatedAt = d.now()
	d.accounts[userID] = acc
	return nil
}

// Get returns the full projection for one user.
func (d *StaticDirectory) Get(_ context.Context, userID uuid.UUID) (*Account, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	acc, ok := d.accounts[userID]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return &acc, nil
}

// Email resolves a user ID to the address notifications should go to.
func (d *StaticDirectory) Email(_ context.Context, userID uuid.UUID) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	acc, ok := d.accounts[userID]
	if !ok {
		return "", ErrAccountNotFound
	}
	return acc.Email, nil
}

// Exists reports whether a projection is present for the user.
func (d *StaticDirectory) Exists(_ context.Context, userID uuid.UUID) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	_, ok := d.accounts[userID]
	return ok, nil
}
