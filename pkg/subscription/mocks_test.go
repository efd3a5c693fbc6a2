package subscription_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/subsync/pkg/subscription"
)

// MockProvider is a mock implementation of subscription.Provider.
type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) GetCustomer(ctx context.Context, customerID string) (*subscription.Customer, error) {
	args := m.Called(ctx, customerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*subscription.Customer), args.Error(1)
}

func (m *MockProvider) GetSubscription(ctx context.Context, subscriptionID string) (*subscription.ProviderSubscription, error) {
	args := m.Called(ctx, subscriptionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*subscription.ProviderSubscription), args.Error(1)
}

func (m *MockProvider) UpdateSubscriptionStatus(ctx context.Context, subscriptionID string, update subscription.SubscriptionUpdate) (*subscription.ProviderSubscription, error) {
	args := m.Called(ctx, subscriptionID, update)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*subscription.ProviderSubscription), args.Error(1)
}

// MockDeduper is a mock implementation of subscription.EventDeduper.
type MockDeduper struct {
	mock.Mock
}

func (m *MockDeduper) Claim(ctx context.Context, eventID string) (bool, error) {
	args := m.Called(ctx, eventID)
	return args.Bool(0), args.Error(1)
}

func (m *MockDeduper) Release(ctx context.Context, eventID string) error {
	args := m.Called(ctx, eventID)
	return args.Error(0)
}

var fixedNow = time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

func newReconciler(store *subscription.MemoryStore, provider subscription.Provider, opts ...subscription.Option) *subscription.Reconciler {
	opts = append([]subscription.Option{
		subscription.WithClock(func() time.Time { return fixedNow }),
	}, opts...)
	return subscription.NewReconciler(store, store, provider, opts...)
}

func linkedUser(customerID string) subscription.User {
	return subscription.User{
		ID:                 uuid.New(),
		Email:              customerID + "@example.com",
		ProviderCustomerID: customerID,
	}
}

func providerSub(id, customer string, status subscription.Status, interval subscription.Interval, count int64, periodStart time.Time) *subscription.ProviderSubscription {
	sub := &subscription.ProviderSubscription{
		ID:                 id,
		Customer:           subscription.ExpandableID(customer),
		Status:             status,
		CurrentPeriodStart: periodStart.Unix(),
	}
	sub.Items.Data = []subscription.SubscriptionItem{{
		ID: "si_" + id,
		Price: &subscription.Price{
			ID:        "price_" + string(interval),
			Recurring: &subscription.Recurring{Interval: interval, IntervalCount: count},
		},
	}}
	return sub
}

func newEvent(t *testing.T, typ subscription.EventType, id string, object any) *subscription.Event {
	t.Helper()
	raw, err := json.Marshal(object)
	require.NoError(t, err)
	return &subscription.Event{
		ID:       id,
		Type:     typ,
		Created:  fixedNow.Add(-time.Minute),
		Object:   raw,
		Verified: true,
	}
}

func subscriptionIDs(records []subscription.Record) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		if r.ProviderSubscriptionID != nil {
			out = append(out, *r.ProviderSubscriptionID)
		}
	}
	return out
}
