// Package subscription keeps a local subscription store in sync with a payment
// provider by consuming its webhook events.
//
// The provider (Stripe) is the source of truth for billing state. Each delivered
// event is verified, classified by type and reduced into at most one Record per
// provider subscription. Records carry a normalized plan tier and a validity
// window the application uses to grant access.
//
// # Architecture
//
//   - Reconciler: dispatches events to per-type handlers and owns the upsert rules
//   - IdentityStore: resolves provider customers to local users
//   - SubscriptionStore: persists records; must enforce uniqueness of provider IDs
//   - Provider: fetches and transitions provider-side objects
//   - EventParser: verifies webhook signatures and decodes event envelopes
//   - WebhookHandler: the HTTP endpoint, which always acknowledges deliveries
//
// # Handled Events
//
//   - checkout.session.completed: paid sessions activate their subscription
//   - payment_intent.succeeded: activates the referenced subscription, or records
//     a PIX payment keyed by the payment intent
//   - invoice.payment_succeeded: completes an incomplete subscription with billing
//     anchored at the current period
//   - customer.subscription.created/updated/deleted: mirrors the provider status
//
// Any other event type is acknowledged and ignored.
//
// # Identity Resolution
//
// A customer is first looked up by its linked provider customer ID. On a miss the
// customer's email is fetched from the provider, matched against local users and
// the link is persisted, so the next event resolves directly. Events whose
// customer cannot be resolved are skipped, never retried.
//
// # Plans and Validity Windows
//
// Provider billing intervals collapse into four tiers with ClassifyInterval.
// The validity window starts at the provider's current billing period start when
// known and ends one tier length later, in calendar months clamped to the end of
// shorter months.
//
// # Usage
//
//	store := subscription.NewMemoryStore()
//	provider, err := subscription.NewStripeProvider(cfg)
//	if err != nil {
//		return err
//	}
//	rec := subscription.NewReconciler(store, store, provider,
//		subscription.WithLogger(log),
//		subscription.WithMetrics(subscription.NewMetrics(prometheus.DefaultRegisterer)),
//	)
//	parser := subscription.NewEventParser(cfg.WebhookSecret, cfg.StrictWebhooks)
//	r.Post("/webhooks/stripe", subscription.NewWebhookHandler(parser, rec, log).ServeHTTP)
//
// # Error Handling
//
// Handlers return sentinel errors joined with their cause. IsSkippable tells apart
// events that can never be applied (bad payloads, unknown customers) from
// transient failures:
//
//	outcome, err := rec.HandleEvent(ctx, ev)
//	if errors.Is(err, subscription.ErrUserNotFound) {
//		// customer has no local account
//	}
package subscription
