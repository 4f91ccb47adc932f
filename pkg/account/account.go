package account

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Account is a billing-local projection of a user managed by the host
// application. The billing engine never owns user records; it keeps just
// enough of them to validate subscribers and address notifications.
type Account struct {
	UserID    uuid.UUID
	Email     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

var (
	// ErrAccountNotFound is returned when no projection exists for the
	// requested user. Callers that only need a yes/no answer should use
	// Exists instead of matching on this error.
	ErrAccountNotFound = errors.New("account not found")

	// ErrEmptyEmail rejects upserts that would erase a recipient address.
	ErrEmptyEmail = errors.New("account email is empty")
)
