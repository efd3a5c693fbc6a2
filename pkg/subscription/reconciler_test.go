package subscription_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/subsync/pkg/subscription"
)

var periodStart = time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)

func TestNewReconciler(t *testing.T) {
	t.Parallel()

	store := subscription.NewMemoryStore()
	provider := &MockProvider{}

	assert.Panics(t, func() { subscription.NewReconciler(nil, store, provider) })
	assert.Panics(t, func() { subscription.NewReconciler(store, nil, provider) })
	assert.Panics(t, func() { subscription.NewReconciler(store, store, nil) })
	assert.NotPanics(t, func() { subscription.NewReconciler(store, store, provider) })
}

func TestReconciler_SubscriptionChanged(t *testing.T) {
	t.Parallel()

	t.Run("creates record from linked customer", func(t *testing.T) {
		t.Parallel()

		user := linkedUser("cus_1")
		store := subscription.NewMemoryStore(user)
		provider := &MockProvider{}
		r := newReconciler(store, provider)

		sub := providerSub("sub_1", "cus_1", subscription.StatusActive, subscription.IntervalMonth, 1, periodStart)
		outcome, err := r.HandleEvent(context.Background(), newEvent(t, subscription.EventSubscriptionCreated, "evt_1", sub))
		require.NoError(t, err)
		assert.Equal(t, subscription.OutcomeProcessed, outcome)

		records := store.Records()
		require.Len(t, records, 1)
		rec := records[0]
		assert.Equal(t, user.ID, rec.UserID)
		assert.Equal(t, "cus_1", rec.ProviderCustomerID)
		require.NotNil(t, rec.ProviderSubscriptionID)
		assert.Equal(t, "sub_1", *rec.ProviderSubscriptionID)
		assert.Equal(t, subscription.StatusActive, rec.Status)
		assert.Equal(t, subscription.PlanMonthly, rec.PlanType)
		assert.Equal(t, periodStart, rec.StartDate)
		assert.Equal(t, time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC), rec.EndDate)
		assert.Equal(t, fixedNow, rec.UpdatedAt)
		provider.AssertNotCalled(t, "GetCustomer", mock.Anything, mock.Anything)
	})

	t.Run("redelivered event is idempotent", func(t *testing.T) {
		t.Parallel()

		store := subscription.NewMemoryStore(linkedUser("cus_1"))
		r := newReconciler(store, &MockProvider{})

		sub := providerSub("sub_1", "cus_1", subscription.StatusActive, subscription.IntervalMonth, 3, periodStart)
		ev := newEvent(t, subscription.EventSubscriptionUpdated, "evt_1", sub)

		_, err := r.HandleEvent(context.Background(), ev)
		require.NoError(t, err)
		first := store.Records()

		_, err = r.HandleEvent(context.Background(), ev)
		require.NoError(t, err)
		assert.Equal(t, first, store.Records())
		assert.Equal(t, subscription.PlanQuarterly, first[0].PlanType)
		assert.Equal(t, time.Date(2024, 4, 30, 0, 0, 0, 0, time.UTC), first[0].EndDate)
	})

	t.Run("update keeps start date and coupon", func(t *testing.T) {
		t.Parallel()

		store := subscription.NewMemoryStore(linkedUser("cus_1"))
		r := newReconciler(store, &MockProvider{})

		sub := providerSub("sub_1", "cus_1", subscription.StatusActive, subscription.IntervalMonth, 1, periodStart)
		sub.Discount = &subscription.Discount{}
		require.NoError(t, json.Unmarshal([]byte(`{"coupon":{"id":"WELCOME","amount_off":500}}`), sub.Discount))
		_, err := r.HandleEvent(context.Background(), newEvent(t, subscription.EventSubscriptionCreated, "evt_1", sub))
		require.NoError(t, err)

		renewedStart := time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC)
		renewed := providerSub("sub_1", "cus_1", subscription.StatusPastDue, subscription.IntervalYear, 1, renewedStart)
		_, err = r.HandleEvent(context.Background(), newEvent(t, subscription.EventSubscriptionUpdated, "evt_2", renewed))
		require.NoError(t, err)

		records := store.Records()
		require.Len(t, records, 1)
		rec := records[0]
		assert.Equal(t, periodStart, rec.StartDate)
		assert.Equal(t, subscription.StatusPastDue, rec.Status)
		assert.Equal(t, subscription.PlanYearly, rec.PlanType)
		assert.Equal(t, time.Date(2025, 2, 28, 0, 0, 0, 0, time.UTC), rec.EndDate)
		assert.JSONEq(t, `{"coupon_id":"WELCOME","discount_amount":500,"discount_percent":null}`, string(rec.CouponInfo))
	})

	t.Run("deleted subscription mirrors canceled status", func(t *testing.T) {
		t.Parallel()

		store := subscription.NewMemoryStore(linkedUser("cus_1"))
		r := newReconciler(store, &MockProvider{})

		sub := providerSub("sub_1", "cus_1", subscription.StatusActive, subscription.IntervalMonth, 1, periodStart)
		_, err := r.HandleEvent(context.Background(), newEvent(t, subscription.EventSubscriptionCreated, "evt_1", sub))
		require.NoError(t, err)

		sub.Status = subscription.StatusCanceled
		outcome, err := r.HandleEvent(context.Background(), newEvent(t, subscription.EventSubscriptionDeleted, "evt_2", sub))
		require.NoError(t, err)
		assert.Equal(t, subscription.OutcomeProcessed, outcome)

		records := store.Records()
		require.Len(t, records, 1)
		assert.Equal(t, subscription.StatusCanceled, records[0].Status)
		assert.False(t, records[0].EntitledAt(fixedNow))
	})

	t.Run("unknown status stored verbatim", func(t *testing.T) {
		t.Parallel()

		store := subscription.NewMemoryStore(linkedUser("cus_1"))
		r := newReconciler(store, &MockProvider{})

		sub := providerSub("sub_1", "cus_1", subscription.Status("paused"), subscription.IntervalMonth, 1, periodStart)
		_, err := r.HandleEvent(context.Background(), newEvent(t, subscription.EventSubscriptionUpdated, "evt_1", sub))
		require.NoError(t, err)
		assert.Equal(t, subscription.Status("paused"), store.Records()[0].Status)
	})

	t.Run("window falls back to event time", func(t *testing.T) {
		t.Parallel()

		store := subscription.NewMemoryStore(linkedUser("cus_1"))
		r := newReconciler(store, &MockProvider{})

		sub := providerSub("sub_1", "cus_1", subscription.StatusActive, subscription.IntervalDay, 365, time.Time{})
		sub.CurrentPeriodStart = 0
		ev := newEvent(t, subscription.EventSubscriptionCreated, "evt_1", sub)
		_, err := r.HandleEvent(context.Background(), ev)
		require.NoError(t, err)

		rec := store.Records()[0]
		assert.Equal(t, ev.Created, rec.StartDate)
		assert.Equal(t, subscription.PlanYearly, rec.PlanType)
		assert.Equal(t, ev.Created.AddDate(1, 0, 0), rec.EndDate)
	})
}

func TestReconciler_IdentityResolution(t *testing.T) {
	t.Parallel()

	sub := providerSub("sub_1", "cus_new", subscription.StatusActive, subscription.IntervalMonth, 1, periodStart)

	t.Run("links user by email and reuses the link", func(t *testing.T) {
		t.Parallel()

		user := subscription.User{ID: uuid.New(), Email: "Jane@Example.com"}
		store := subscription.NewMemoryStore(user)
		provider := &MockProvider{}
		provider.On("GetCustomer", mock.Anything, "cus_new").
			Return(&subscription.Customer{ID: "cus_new", Email: "jane@example.com"}, nil).Once()
		r := newReconciler(store, provider)

		outcome, err := r.HandleEvent(context.Background(), newEvent(t, subscription.EventSubscriptionCreated, "evt_1", sub))
		require.NoError(t, err)
		assert.Equal(t, subscription.OutcomeProcessed, outcome)

		linked, ok := store.User(user.ID)
		require.True(t, ok)
		assert.Equal(t, "cus_new", linked.ProviderCustomerID)

		_, err = r.HandleEvent(context.Background(), newEvent(t, subscription.EventSubscriptionUpdated, "evt_2", sub))
		require.NoError(t, err)

		provider.AssertExpectations(t)
		provider.AssertNumberOfCalls(t, "GetCustomer", 1)
		require.Len(t, store.Records(), 1)
		assert.Equal(t, user.ID, store.Records()[0].UserID)
	})

	tests := []struct {
		name     string
		customer *subscription.Customer
		err      error
		wantErr  error
		outcome  subscription.Outcome
	}{
		{
			name:     "deleted customer",
			customer: &subscription.Customer{ID: "cus_new", Email: "jane@example.com", Deleted: true},
			wantErr:  subscription.ErrCustomerDeleted,
			outcome:  subscription.OutcomeSkipped,
		},
		{
			name:     "customer without email",
			customer: &subscription.Customer{ID: "cus_new"},
			wantErr:  subscription.ErrMissingUserEmail,
			outcome:  subscription.OutcomeSkipped,
		},
		{
			name:     "no user with that email",
			customer: &subscription.Customer{ID: "cus_new", Email: "nobody@example.com"},
			wantErr:  subscription.ErrUserNotFound,
			outcome:  subscription.OutcomeSkipped,
		},
		{
			name:    "provider failure",
			err:     errors.Join(subscription.ErrProviderError, errors.New("boom")),
			wantErr: subscription.ErrProviderError,
			outcome: subscription.OutcomeFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			user := subscription.User{ID: uuid.New(), Email: "jane@example.com"}
			store := subscription.NewMemoryStore(user)
			provider := &MockProvider{}
			if tt.customer != nil {
				provider.On("GetCustomer", mock.Anything, "cus_new").Return(tt.customer, nil)
			} else {
				provider.On("GetCustomer", mock.Anything, "cus_new").Return(nil, tt.err)
			}
			r := newReconciler(store, provider)

			outcome, err := r.HandleEvent(context.Background(), newEvent(t, subscription.EventSubscriptionUpdated, "evt_1", sub))
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, tt.outcome, outcome)
			assert.Empty(t, store.Records())

			stored, _ := store.User(user.ID)
			assert.Empty(t, stored.ProviderCustomerID)
		})
	}
}

func TestReconciler_CheckoutCompleted(t *testing.T) {
	t.Parallel()

	t.Run("paid session activates subscription", func(t *testing.T) {
		t.Parallel()

		store := subscription.NewMemoryStore(linkedUser("cus_1"))
		sub := providerSub("sub_1", "cus_1", subscription.StatusIncomplete, subscription.IntervalMonth, 6, periodStart)
		provider := &MockProvider{}
		provider.On("GetSubscription", mock.Anything, "sub_1").Return(sub, nil).Once()
		r := newReconciler(store, provider)

		session := map[string]any{
			"id":             "cs_1",
			"customer":       "cus_1",
			"subscription":   "sub_1",
			"payment_status": "paid",
			"mode":           "subscription",
		}
		outcome, err := r.HandleEvent(context.Background(), newEvent(t, subscription.EventCheckoutSessionCompleted, "evt_1", session))
		require.NoError(t, err)
		assert.Equal(t, subscription.OutcomeProcessed, outcome)
		provider.AssertExpectations(t)

		records := store.Records()
		require.Len(t, records, 1)
		assert.Equal(t, subscription.StatusActive, records[0].Status)
		assert.Equal(t, subscription.PlanSemiannual, records[0].PlanType)
		assert.Equal(t, time.Date(2024, 7, 31, 0, 0, 0, 0, time.UTC), records[0].EndDate)
	})

	t.Run("unpaid or subscriptionless sessions are ignored", func(t *testing.T) {
		t.Parallel()

		store := subscription.NewMemoryStore(linkedUser("cus_1"))
		provider := &MockProvider{}
		r := newReconciler(store, provider)

		for _, session := range []map[string]any{
			{"id": "cs_1", "subscription": "sub_1", "payment_status": "unpaid"},
			{"id": "cs_2", "payment_status": "paid", "mode": "payment"},
		} {
			outcome, err := r.HandleEvent(context.Background(), newEvent(t, subscription.EventCheckoutSessionCompleted, "evt_"+session["id"].(string), session))
			require.NoError(t, err)
			assert.Equal(t, subscription.OutcomeIgnored, outcome)
		}
		assert.Empty(t, store.Records())
		provider.AssertNotCalled(t, "GetSubscription", mock.Anything, mock.Anything)
	})

	t.Run("malformed session is skipped without writes", func(t *testing.T) {
		t.Parallel()

		store := subscription.NewMemoryStore(linkedUser("cus_1"))
		r := newReconciler(store, &MockProvider{})

		outcome, err := r.HandleEvent(context.Background(), newEvent(t, subscription.EventCheckoutSessionCompleted, "evt_1", map[string]any{"payment_status": "paid"}))
		assert.ErrorIs(t, err, subscription.ErrInvalidPayload)
		assert.Equal(t, subscription.OutcomeSkipped, outcome)
		assert.Empty(t, store.Records())
	})
}

func TestReconciler_PaymentSucceeded(t *testing.T) {
	t.Parallel()

	t.Run("forces inactive subscription active", func(t *testing.T) {
		t.Parallel()

		store := subscription.NewMemoryStore(linkedUser("cus_1"))
		incomplete := providerSub("sub_1", "cus_1", subscription.StatusIncomplete, subscription.IntervalYear, 1, periodStart)
		active := providerSub("sub_1", "cus_1", subscription.StatusActive, subscription.IntervalYear, 1, periodStart)
		provider := &MockProvider{}
		provider.On("GetSubscription", mock.Anything, "sub_1").Return(incomplete, nil).Once()
		provider.On("UpdateSubscriptionStatus", mock.Anything, "sub_1", subscription.SubscriptionUpdate{Status: subscription.StatusActive}).
			Return(active, nil).Once()
		r := newReconciler(store, provider)

		intent := map[string]any{
			"id":       "pi_1",
			"customer": "cus_1",
			"status":   "succeeded",
			"metadata": map[string]string{"subscription_id": "sub_1"},
		}
		outcome, err := r.HandleEvent(context.Background(), newEvent(t, subscription.EventPaymentIntentSucceeded, "evt_1", intent))
		require.NoError(t, err)
		assert.Equal(t, subscription.OutcomeProcessed, outcome)
		provider.AssertExpectations(t)

		records := store.Records()
		require.Len(t, records, 1)
		assert.Equal(t, subscription.StatusActive, records[0].Status)
		assert.Equal(t, subscription.PlanYearly, records[0].PlanType)
	})

	t.Run("already active subscription is not updated", func(t *testing.T) {
		t.Parallel()

		store := subscription.NewMemoryStore(linkedUser("cus_1"))
		provider := &MockProvider{}
		provider.On("GetSubscription", mock.Anything, "sub_1").
			Return(providerSub("sub_1", "cus_1", subscription.StatusActive, subscription.IntervalMonth, 1, periodStart), nil)
		r := newReconciler(store, provider)

		intent := map[string]any{"id": "pi_1", "metadata": map[string]string{"subscription_id": "sub_1"}}
		_, err := r.HandleEvent(context.Background(), newEvent(t, subscription.EventPaymentIntentSucceeded, "evt_1", intent))
		require.NoError(t, err)
		provider.AssertNotCalled(t, "UpdateSubscriptionStatus", mock.Anything, mock.Anything, mock.Anything)
		assert.Equal(t, []string{"sub_1"}, subscriptionIDs(store.Records()))
	})

	t.Run("payment without subscription is ignored", func(t *testing.T) {
		t.Parallel()

		store := subscription.NewMemoryStore()
		r := newReconciler(store, &MockProvider{})

		outcome, err := r.HandleEvent(context.Background(), newEvent(t, subscription.EventPaymentIntentSucceeded, "evt_1", map[string]any{"id": "pi_1"}))
		require.NoError(t, err)
		assert.Equal(t, subscription.OutcomeIgnored, outcome)
		assert.Empty(t, store.Records())
	})

	t.Run("pix payment creates record keyed by payment intent", func(t *testing.T) {
		t.Parallel()

		user := subscription.User{ID: uuid.New(), Email: "pix@example.com"}
		store := subscription.NewMemoryStore(user)
		r := newReconciler(store, &MockProvider{})

		intent := map[string]any{
			"id":       "pi_pix",
			"customer": "cus_pix",
			"metadata": map[string]string{
				"payment_method": "pix",
				"plan_type":      "quarterly",
				"user_id":        user.ID.String(),
			},
		}
		ev := newEvent(t, subscription.EventPaymentIntentSucceeded, "evt_1", intent)
		outcome, err := r.HandleEvent(context.Background(), ev)
		require.NoError(t, err)
		assert.Equal(t, subscription.OutcomeProcessed, outcome)

		_, err = r.HandleEvent(context.Background(), ev)
		require.NoError(t, err)

		records := store.Records()
		require.Len(t, records, 1)
		rec := records[0]
		assert.Equal(t, user.ID, rec.UserID)
		assert.Nil(t, rec.ProviderSubscriptionID)
		require.NotNil(t, rec.PaymentIntentID)
		assert.Equal(t, "pi_pix", *rec.PaymentIntentID)
		assert.Equal(t, subscription.PlanQuarterly, rec.PlanType)
		assert.Equal(t, ev.Created, rec.StartDate)
		assert.Equal(t, ev.Created.AddDate(0, 3, 0), rec.EndDate)
	})

	t.Run("pix payment without user falls back to customer", func(t *testing.T) {
		t.Parallel()

		store := subscription.NewMemoryStore()
		r := newReconciler(store, &MockProvider{})

		intent := map[string]any{
			"id":       "pi_pix",
			"metadata": map[string]string{"payment_method": "pix"},
		}
		outcome, err := r.HandleEvent(context.Background(), newEvent(t, subscription.EventPaymentIntentSucceeded, "evt_1", intent))
		assert.ErrorIs(t, err, subscription.ErrMissingCustomer)
		assert.Equal(t, subscription.OutcomeSkipped, outcome)
		assert.Empty(t, store.Records())
	})
}

func TestReconciler_InvoicePaid(t *testing.T) {
	t.Parallel()

	invoice := map[string]any{"id": "in_1", "customer": "cus_1", "subscription": "sub_1"}

	t.Run("completes incomplete subscription", func(t *testing.T) {
		t.Parallel()

		store := subscription.NewMemoryStore(linkedUser("cus_1"))
		incomplete := providerSub("sub_1", "cus_1", subscription.StatusIncomplete, subscription.IntervalMonth, 1, periodStart)
		active := providerSub("sub_1", "cus_1", subscription.StatusActive, subscription.IntervalMonth, 1, periodStart)
		provider := &MockProvider{}
		provider.On("GetSubscription", mock.Anything, "sub_1").Return(incomplete, nil).Once()
		provider.On("UpdateSubscriptionStatus", mock.Anything, "sub_1", mock.MatchedBy(func(u subscription.SubscriptionUpdate) bool {
			return u.Status == subscription.StatusActive &&
				u.NoProration &&
				u.BillingCycleAnchor != nil &&
				u.BillingCycleAnchor.Equal(periodStart)
		})).Return(active, nil).Once()
		r := newReconciler(store, provider)

		outcome, err := r.HandleEvent(context.Background(), newEvent(t, subscription.EventInvoicePaymentSucceeded, "evt_1", invoice))
		require.NoError(t, err)
		assert.Equal(t, subscription.OutcomeProcessed, outcome)
		provider.AssertExpectations(t)

		records := store.Records()
		require.Len(t, records, 1)
		assert.Equal(t, subscription.StatusActive, records[0].Status)
		assert.Equal(t, periodStart, records[0].StartDate)
	})

	t.Run("other statuses are left alone", func(t *testing.T) {
		t.Parallel()

		store := subscription.NewMemoryStore(linkedUser("cus_1"))
		provider := &MockProvider{}
		provider.On("GetSubscription", mock.Anything, "sub_1").
			Return(providerSub("sub_1", "cus_1", subscription.StatusActive, subscription.IntervalMonth, 1, periodStart), nil)
		r := newReconciler(store, provider)

		outcome, err := r.HandleEvent(context.Background(), newEvent(t, subscription.EventInvoicePaymentSucceeded, "evt_1", invoice))
		require.NoError(t, err)
		assert.Equal(t, subscription.OutcomeIgnored, outcome)
		provider.AssertNotCalled(t, "UpdateSubscriptionStatus", mock.Anything, mock.Anything, mock.Anything)
		assert.Empty(t, store.Records())
	})

	t.Run("invoice without subscription is ignored", func(t *testing.T) {
		t.Parallel()

		r := newReconciler(subscription.NewMemoryStore(), &MockProvider{})
		outcome, err := r.HandleEvent(context.Background(), newEvent(t, subscription.EventInvoicePaymentSucceeded, "evt_1", map[string]any{"id": "in_1"}))
		require.NoError(t, err)
		assert.Equal(t, subscription.OutcomeIgnored, outcome)
	})
}

func TestReconciler_UnhandledEventType(t *testing.T) {
	t.Parallel()

	store := subscription.NewMemoryStore()
	provider := &MockProvider{}
	r := newReconciler(store, provider)

	outcome, err := r.HandleEvent(context.Background(), newEvent(t, "charge.refunded", "evt_1", map[string]any{"id": "ch_1"}))
	require.NoError(t, err)
	assert.Equal(t, subscription.OutcomeIgnored, outcome)
	assert.Empty(t, store.Records())
	provider.AssertExpectations(t)
}

func TestReconciler_Deduplication(t *testing.T) {
	t.Parallel()

	sub := providerSub("sub_1", "cus_1", subscription.StatusActive, subscription.IntervalMonth, 1, periodStart)

	t.Run("already claimed event is a duplicate", func(t *testing.T) {
		t.Parallel()

		store := subscription.NewMemoryStore(linkedUser("cus_1"))
		deduper := &MockDeduper{}
		deduper.On("Claim", mock.Anything, "evt_1").Return(false, nil)
		r := newReconciler(store, &MockProvider{}, subscription.WithDeduper(deduper))

		outcome, err := r.HandleEvent(context.Background(), newEvent(t, subscription.EventSubscriptionUpdated, "evt_1", sub))
		require.NoError(t, err)
		assert.Equal(t, subscription.OutcomeDuplicate, outcome)
		assert.Empty(t, store.Records())
		deduper.AssertNotCalled(t, "Release", mock.Anything, mock.Anything)
	})

	t.Run("failed event releases its claim", func(t *testing.T) {
		t.Parallel()

		store := subscription.NewMemoryStore(linkedUser("cus_1"))
		deduper := &MockDeduper{}
		deduper.On("Claim", mock.Anything, "evt_1").Return(true, nil)
		deduper.On("Release", mock.Anything, "evt_1").Return(nil).Once()
		provider := &MockProvider{}
		provider.On("GetSubscription", mock.Anything, "sub_1").Return(nil, subscription.ErrProviderError)
		r := newReconciler(store, provider, subscription.WithDeduper(deduper))

		session := map[string]any{"id": "cs_1", "subscription": "sub_1", "payment_status": "paid"}
		outcome, err := r.HandleEvent(context.Background(), newEvent(t, subscription.EventCheckoutSessionCompleted, "evt_1", session))
		assert.ErrorIs(t, err, subscription.ErrProviderError)
		assert.Equal(t, subscription.OutcomeFailed, outcome)
		deduper.AssertExpectations(t)
	})

	t.Run("panicking handler releases its claim", func(t *testing.T) {
		t.Parallel()

		store := subscription.NewMemoryStore(linkedUser("cus_1"))
		deduper := &MockDeduper{}
		deduper.On("Claim", mock.Anything, "evt_1").Return(true, nil)
		deduper.On("Release", mock.Anything, "evt_1").Return(nil).Once()
		provider := &MockProvider{}
		provider.On("GetSubscription", mock.Anything, "sub_1").
			Run(func(mock.Arguments) { panic("nil map write") }).
			Return(nil, nil)
		r := newReconciler(store, provider, subscription.WithDeduper(deduper))

		session := map[string]any{"id": "cs_1", "subscription": "sub_1", "payment_status": "paid"}
		var (
			outcome subscription.Outcome
			err     error
		)
		require.NotPanics(t, func() {
			outcome, err = r.HandleEvent(context.Background(), newEvent(t, subscription.EventCheckoutSessionCompleted, "evt_1", session))
		})
		assert.ErrorIs(t, err, subscription.ErrEventPanicked)
		assert.Contains(t, err.Error(), "nil map write")
		assert.Equal(t, subscription.OutcomeFailed, outcome)
		assert.Empty(t, store.Records())
		deduper.AssertExpectations(t)
	})

	t.Run("deduper outage does not block processing", func(t *testing.T) {
		t.Parallel()

		store := subscription.NewMemoryStore(linkedUser("cus_1"))
		deduper := &MockDeduper{}
		deduper.On("Claim", mock.Anything, "evt_1").Return(false, errors.New("connection refused"))
		r := newReconciler(store, &MockProvider{}, subscription.WithDeduper(deduper))

		outcome, err := r.HandleEvent(context.Background(), newEvent(t, subscription.EventSubscriptionUpdated, "evt_1", sub))
		require.NoError(t, err)
		assert.Equal(t, subscription.OutcomeProcessed, outcome)
		assert.Len(t, store.Records(), 1)
	})
}

// racingStore hides existing records from the first lookup, as if a concurrent
// delivery inserted the record between the lookup and the insert.
type racingStore struct {
	*subscription.MemoryStore
	lookups int
}

func (s *racingStore) FindByProviderSubscriptionID(ctx context.Context, id string) (*subscription.Record, error) {
	s.lookups++
	if s.lookups == 1 {
		return nil, subscription.ErrSubscriptionNotFound
	}
	return s.MemoryStore.FindByProviderSubscriptionID(ctx, id)
}

func TestReconciler_InsertConflict(t *testing.T) {
	t.Parallel()

	user := linkedUser("cus_1")
	mem := subscription.NewMemoryStore(user)
	existing := &subscription.Record{
		ID:                     uuid.New(),
		UserID:                 user.ID,
		ProviderCustomerID:     "cus_1",
		ProviderSubscriptionID: subscription.StringPtr("sub_1"),
		Status:                 subscription.StatusIncomplete,
		PlanType:               subscription.PlanMonthly,
		StartDate:              periodStart,
		EndDate:                subscription.PlanMonthly.EndDate(periodStart),
	}
	require.NoError(t, mem.Insert(context.Background(), existing))

	store := &racingStore{MemoryStore: mem}
	r := subscription.NewReconciler(mem, store, &MockProvider{},
		subscription.WithClock(func() time.Time { return fixedNow }))

	sub := providerSub("sub_1", "cus_1", subscription.StatusActive, subscription.IntervalMonth, 1, periodStart)
	outcome, err := r.HandleEvent(context.Background(), newEvent(t, subscription.EventSubscriptionUpdated, "evt_1", sub))
	require.NoError(t, err)
	assert.Equal(t, subscription.OutcomeProcessed, outcome)
	assert.Equal(t, 2, store.lookups)

	records := mem.Records()
	require.Len(t, records, 1)
	assert.Equal(t, existing.ID, records[0].ID)
	assert.Equal(t, subscription.StatusActive, records[0].Status)
}

func TestReconciler_ActivateTrial(t *testing.T) {
	t.Parallel()

	t.Run("creates trialing record", func(t *testing.T) {
		t.Parallel()

		store := subscription.NewMemoryStore()
		r := newReconciler(store, &MockProvider{})
		userID := uuid.New()

		rec, err := r.ActivateTrial(context.Background(), userID)
		require.NoError(t, err)
		assert.Equal(t, subscription.StatusTrialing, rec.Status)
		assert.Equal(t, subscription.PlanMonthly, rec.PlanType)
		assert.Equal(t, "trial-customer-"+userID.String(), rec.ProviderCustomerID)
		assert.Nil(t, rec.ProviderSubscriptionID)
		assert.Equal(t, fixedNow, rec.StartDate)
		assert.Equal(t, fixedNow.AddDate(0, 0, 30), rec.EndDate)
		assert.True(t, rec.EntitledAt(fixedNow))
		assert.Len(t, store.Records(), 1)
	})

	t.Run("second activation is a separate record", func(t *testing.T) {
		t.Parallel()

		store := subscription.NewMemoryStore()
		r := newReconciler(store, &MockProvider{})
		userID := uuid.New()

		first, err := r.ActivateTrial(context.Background(), userID)
		require.NoError(t, err)
		second, err := r.ActivateTrial(context.Background(), userID)
		require.NoError(t, err)
		assert.NotEqual(t, first.ID, second.ID)
		assert.Len(t, store.Records(), 2)
	})

	t.Run("requires user", func(t *testing.T) {
		t.Parallel()

		r := newReconciler(subscription.NewMemoryStore(), &MockProvider{})
		_, err := r.ActivateTrial(context.Background(), uuid.Nil)
		assert.ErrorIs(t, err, subscription.ErrMissingUserID)
	})
}

func TestReconciler_EventBudget(t *testing.T) {
	t.Parallel()

	r := newReconciler(subscription.NewMemoryStore(), &MockProvider{})
	assert.Equal(t, subscription.MaxCallsPerEvent*subscription.DefaultCallTimeout, r.EventBudget())

	r = newReconciler(subscription.NewMemoryStore(), &MockProvider{}, subscription.WithCallTimeout(2*time.Second))
	assert.Equal(t, 20*time.Second, r.EventBudget())
}
