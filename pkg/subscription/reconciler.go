package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/subsync/pkg/logger"
)

// Reconciler applies provider events to the local subscription store.
// It is safe for concurrent use; ordering between events is not assumed.
type Reconciler struct {
	identities  IdentityStore
	records     SubscriptionStore
	provider    Provider
	deduper     EventDeduper
	metrics     *Metrics
	logger      *slog.Logger
	now         func() time.Time
	callTimeout time.Duration
}

// NewReconciler creates a reconciler. All three dependencies are required.
func NewReconciler(identities IdentityStore, records SubscriptionStore, provider Provider, opts ...Option) *Reconciler {
	if identities == nil {
		panic("subscription: identity store is required")
	}
	if records == nil {
		panic("subscription: subscription store is required")
	}
	if provider == nil {
		panic("subscription: provider is required")
	}

	r := &Reconciler{
		identities:  identities,
		records:     records,
		provider:    provider,
		deduper:     noopDeduper{},
		logger:      slog.New(slog.DiscardHandler),
		now:         time.Now,
		callTimeout: DefaultCallTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// HandleEvent reconciles a single event and reports how it was handled.
// Skipped events return the reason as error alongside OutcomeSkipped;
// failures return OutcomeFailed. Neither is retried by the caller.
func (r *Reconciler) HandleEvent(ctx context.Context, ev *Event) (Outcome, error) {
	start := time.Now()
	log := r.logger.With(
		logger.EventID(ev.ID),
		logger.EventType(string(ev.Type)),
		slog.Bool("verified", ev.Verified),
	)

	outcome, err := r.handle(ctx, ev)
	r.metrics.observe(ev.Type, outcome, time.Since(start))

	switch outcome {
	case OutcomeProcessed:
		log.InfoContext(ctx, "Webhook event processed", logger.Outcome(string(outcome)))
	case OutcomeIgnored, OutcomeDuplicate:
		log.DebugContext(ctx, "Webhook event not applied", logger.Outcome(string(outcome)))
	case OutcomeSkipped:
		log.WarnContext(ctx, "Webhook event skipped", logger.Outcome(string(outcome)), logger.Error(err))
	default:
		log.ErrorContext(ctx, "Webhook event failed", logger.Outcome(string(outcome)), logger.Error(err))
	}
	return outcome, err
}

func (r *Reconciler) handle(ctx context.Context, ev *Event) (Outcome, error) {
	if ev.ID != "" {
		claimed, err := r.deduper.Claim(ctx, ev.ID)
		switch {
		case err != nil:
			r.logger.WarnContext(ctx, "Event deduplication unavailable, processing anyway",
				logger.EventID(ev.ID),
				logger.Error(errors.Join(ErrDeduplicatorFailed, err)))
		case !claimed:
			return OutcomeDuplicate, nil
		}
	}

	ctx, cancel := context.WithTimeout(ctx, r.EventBudget())
	defer cancel()

	outcome, err := r.dispatchRecovered(ctx, ev)
	if err == nil {
		return outcome, nil
	}
	if IsSkippable(err) {
		return OutcomeSkipped, err
	}

	if ev.ID != "" {
		if rerr := r.deduper.Release(ctx, ev.ID); rerr != nil {
			r.logger.WarnContext(ctx, "Failed to release event claim",
				logger.EventID(ev.ID),
				logger.Error(rerr))
		}
	}
	return OutcomeFailed, err
}

// dispatchRecovered turns a panic in an event handler into a failure, so the
// event's dedupe claim is released like for any other failed event.
func (r *Reconciler) dispatchRecovered(ctx context.Context, ev *Event) (outcome Outcome, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			outcome, err = OutcomeFailed, errors.Join(ErrEventPanicked, fmt.Errorf("panic: %v", rec))
		}
	}()
	return r.dispatch(ctx, ev)
}

func (r *Reconciler) dispatch(ctx context.Context, ev *Event) (Outcome, error) {
	switch ev.Type {
	case EventCheckoutSessionCompleted:
		return r.onCheckoutCompleted(ctx, ev)
	case EventPaymentIntentSucceeded:
		return r.onPaymentSucceeded(ctx, ev)
	case EventInvoicePaymentSucceeded:
		return r.onInvoicePaid(ctx, ev)
	case EventSubscriptionCreated, EventSubscriptionUpdated, EventSubscriptionDeleted:
		return r.onSubscriptionChanged(ctx, ev)
	default:
		return OutcomeIgnored, nil
	}
}

// onCheckoutCompleted activates the subscription bought through a paid checkout session.
func (r *Reconciler) onCheckoutCompleted(ctx context.Context, ev *Event) (Outcome, error) {
	session, err := decodeObject[CheckoutSession](ev)
	if err != nil {
		return "", err
	}
	if !session.Paid() || session.Subscription == "" {
		return OutcomeIgnored, nil
	}

	sub, err := r.getSubscription(ctx, session.Subscription.String())
	if err != nil {
		return "", err
	}
	user, err := r.resolveUser(ctx, sub.Customer.String())
	if err != nil {
		return "", err
	}

	if err := r.upsert(ctx, r.newRecord(user, sub, StatusActive, r.windowStart(ev, sub))); err != nil {
		return "", err
	}
	return OutcomeProcessed, nil
}

// onPaymentSucceeded activates the subscription a one-off payment was made for.
// Payments without a subscription reference are handled only for PIX checkouts.
func (r *Reconciler) onPaymentSucceeded(ctx context.Context, ev *Event) (Outcome, error) {
	intent, err := decodeObject[PaymentIntent](ev)
	if err != nil {
		return "", err
	}

	subID := intent.Metadata["subscription_id"]
	if subID == "" {
		if strings.EqualFold(intent.Metadata["payment_method"], "pix") {
			return r.onPixPayment(ctx, ev, intent)
		}
		return OutcomeIgnored, nil
	}

	sub, err := r.getSubscription(ctx, subID)
	if err != nil {
		return "", err
	}
	if sub.Status != StatusActive {
		if sub, err = r.updateSubscriptionStatus(ctx, subID, SubscriptionUpdate{Status: StatusActive}); err != nil {
			return "", err
		}
	}

	user, err := r.resolveUser(ctx, sub.Customer.String())
	if err != nil {
		return "", err
	}
	if err := r.upsert(ctx, r.newRecord(user, sub, StatusActive, r.windowStart(ev, sub))); err != nil {
		return "", err
	}
	return OutcomeProcessed, nil
}

// onPixPayment records a PIX payment, which carries no provider subscription.
// The record is keyed by the payment intent; plan and owner come from metadata.
func (r *Reconciler) onPixPayment(ctx context.Context, ev *Event, intent *PaymentIntent) (Outcome, error) {
	userID, err := uuid.Parse(intent.Metadata["user_id"])
	if err != nil {
		user, rerr := r.resolveUser(ctx, intent.Customer.String())
		if rerr != nil {
			return "", rerr
		}
		userID = user.ID
	}

	plan, known := ParsePlanType(intent.Metadata["plan_type"])
	if !known {
		r.logger.WarnContext(ctx, "Unknown plan type in payment metadata, using default",
			logger.EventID(ev.ID),
			slog.String("plan_type", intent.Metadata["plan_type"]),
			slog.String("default", string(plan)))
	}

	start := ev.Created
	if start.IsZero() {
		start = r.now()
	}
	rec := &Record{
		ID:                 uuid.New(),
		UserID:             userID,
		ProviderCustomerID: intent.Customer.String(),
		Status:             StatusActive,
		PlanType:           plan,
		StartDate:          start,
		EndDate:            plan.EndDate(start),
		PaymentIntentID:    StringPtr(intent.ID),
		UpdatedAt:          r.now(),
	}
	err = r.upsertBy(ctx, rec, func(ctx context.Context) (*Record, error) {
		return r.records.FindByPaymentIntentID(ctx, intent.ID)
	})
	if err != nil {
		return "", err
	}
	return OutcomeProcessed, nil
}

// onInvoicePaid completes a subscription whose first invoice was paid out of band,
// anchoring billing at the current period without proration.
func (r *Reconciler) onInvoicePaid(ctx context.Context, ev *Event) (Outcome, error) {
	invoice, err := decodeObject[Invoice](ev)
	if err != nil {
		return "", err
	}
	subID := invoice.SubscriptionID()
	if subID == "" {
		return OutcomeIgnored, nil
	}

	sub, err := r.getSubscription(ctx, subID)
	if err != nil {
		return "", err
	}
	if sub.Status != StatusIncomplete {
		return OutcomeIgnored, nil
	}

	update := SubscriptionUpdate{Status: StatusActive, NoProration: true}
	if ps := sub.PeriodStart(); !ps.IsZero() {
		update.BillingCycleAnchor = &ps
	}
	updated, err := r.updateSubscriptionStatus(ctx, subID, update)
	if err != nil {
		return "", err
	}

	user, err := r.resolveUser(ctx, updated.Customer.String())
	if err != nil {
		return "", err
	}
	start := updated.PeriodStart()
	if start.IsZero() {
		start = r.windowStart(ev, sub)
	}
	if err := r.upsert(ctx, r.newRecord(user, updated, StatusActive, start)); err != nil {
		return "", err
	}
	return OutcomeProcessed, nil
}

// onSubscriptionChanged mirrors the provider's subscription state verbatim.
func (r *Reconciler) onSubscriptionChanged(ctx context.Context, ev *Event) (Outcome, error) {
	sub, err := decodeObject[ProviderSubscription](ev)
	if err != nil {
		return "", err
	}
	user, err := r.resolveUser(ctx, sub.Customer.String())
	if err != nil {
		return "", err
	}
	if err := r.upsert(ctx, r.newRecord(user, sub, sub.Status, r.windowStart(ev, sub))); err != nil {
		return "", err
	}
	return OutcomeProcessed, nil
}

func (r *Reconciler) newRecord(user *User, sub *ProviderSubscription, status Status, start time.Time) *Record {
	plan := sub.PlanType()
	return &Record{
		ID:                     uuid.New(),
		UserID:                 user.ID,
		ProviderCustomerID:     sub.Customer.String(),
		ProviderSubscriptionID: StringPtr(sub.ID),
		Status:                 status,
		PlanType:               plan,
		StartDate:              start,
		EndDate:                plan.EndDate(start),
		CouponInfo:             sub.CouponInfo().JSON(),
		UpdatedAt:              r.now(),
	}
}

// windowStart picks the reference time of the validity window: the provider's
// billing period start, then the event creation time, then the current time.
func (r *Reconciler) windowStart(ev *Event, sub *ProviderSubscription) time.Time {
	if sub != nil {
		if ps := sub.PeriodStart(); !ps.IsZero() {
			return ps
		}
	}
	if !ev.Created.IsZero() {
		return ev.Created
	}
	return r.now().UTC()
}

func (r *Reconciler) getSubscription(ctx context.Context, id string) (*ProviderSubscription, error) {
	ctx, cancel := r.callContext(ctx)
	defer cancel()
	return r.provider.GetSubscription(ctx, id)
}

func (r *Reconciler) getCustomer(ctx context.Context, id string) (*Customer, error) {
	ctx, cancel := r.callContext(ctx)
	defer cancel()
	return r.provider.GetCustomer(ctx, id)
}

func (r *Reconciler) updateSubscriptionStatus(ctx context.Context, id string, update SubscriptionUpdate) (*ProviderSubscription, error) {
	ctx, cancel := r.callContext(ctx)
	defer cancel()
	return r.provider.UpdateSubscriptionStatus(ctx, id, update)
}

// EventBudget is the longest handling of a single event may take: every
// external call on the longest path allowed its full call timeout.
func (r *Reconciler) EventBudget() time.Duration {
	return time.Duration(MaxCallsPerEvent) * r.callTimeout
}

func (r *Reconciler) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.callTimeout)
}
