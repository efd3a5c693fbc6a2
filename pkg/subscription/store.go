package subscription

import (
	"context"

	"github.com/google/uuid"
)

// IdentityStore resolves provider customers to local users.
type IdentityStore interface {
	// FindUserByProviderCustomerID returns ErrUserNotFound if no user is linked.
	FindUserByProviderCustomerID(ctx context.Context, customerID string) (*User, error)

	// FindUserByEmail returns ErrUserNotFound if no user has that email.
	FindUserByEmail(ctx context.Context, email string) (*User, error)

	// UpdateUserProviderCustomerID links a user to a provider customer.
	UpdateUserProviderCustomerID(ctx context.Context, userID uuid.UUID, customerID string) error
}

// SubscriptionStore persists subscription records.
type SubscriptionStore interface {
	// FindByProviderSubscriptionID returns ErrSubscriptionNotFound if absent.
	FindByProviderSubscriptionID(ctx context.Context, providerSubscriptionID string) (*Record, error)

	// FindByPaymentIntentID returns ErrSubscriptionNotFound if absent.
	FindByPaymentIntentID(ctx context.Context, paymentIntentID string) (*Record, error)

	// Insert creates a record. Implementations must return ErrSubscriptionAlreadyExists
	// when a record with the same non-nil provider subscription or payment intent ID exists.
	Insert(ctx context.Context, record *Record) error

	// Update rewrites the mutable fields of the record with the given ID.
	Update(ctx context.Context, id uuid.UUID, update RecordUpdate) error
}
