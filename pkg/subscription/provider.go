package subscription

import (
	"context"
	"time"
)

// Provider is the narrow slice of the payment provider API the reconciler calls.
// Implementations translate provider SDK objects into the package's payload types.
type Provider interface {
	// GetCustomer fetches a customer, used to discover its email.
	GetCustomer(ctx context.Context, customerID string) (*Customer, error)

	// GetSubscription fetches the current state of a subscription.
	GetSubscription(ctx context.Context, subscriptionID string) (*ProviderSubscription, error)

	// UpdateSubscriptionStatus transitions a subscription on the provider side.
	UpdateSubscriptionStatus(ctx context.Context, subscriptionID string, update SubscriptionUpdate) (*ProviderSubscription, error)
}

// SubscriptionUpdate describes a provider-side status transition.
type SubscriptionUpdate struct {
	Status             Status
	BillingCycleAnchor *time.Time // nil leaves the anchor unchanged
	NoProration        bool
}
