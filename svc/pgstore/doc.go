// Package pgstore persists users and subscription records in PostgreSQL.
//
// Store satisfies both subscription.IdentityStore and subscription.SubscriptionStore.
// The schema lives in the migrations sub-package and is applied with pg.Migrate;
// partial unique indexes on provider_subscription_id and payment_intent_id back
// the one-record-per-subscription rule, and violations are reported as
// subscription.ErrSubscriptionAlreadyExists so the reconciler can retry as an update.
package pgstore
