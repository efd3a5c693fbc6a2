package subscription

import "errors"

var (
	ErrInvalidPayload            = errors.New("invalid webhook payload")
	ErrWebhookVerificationFailed = errors.New("webhook signature verification failed")
	ErrUnverifiedEvent           = errors.New("unverified webhook event rejected")
	ErrPayloadTooLarge           = errors.New("webhook payload too large")

	ErrUserNotFound     = errors.New("user not found")
	ErrCustomerDeleted  = errors.New("provider customer was deleted")
	ErrMissingCustomer  = errors.New("provider customer ID not available")
	ErrMissingUserEmail = errors.New("provider customer has no email")

	ErrSubscriptionNotFound      = errors.New("subscription not found")
	ErrSubscriptionAlreadyExists = errors.New("subscription already exists")
	ErrInvalidPlanType           = errors.New("invalid subscription plan type")
	ErrStoreRead                 = errors.New("subscription store read failed")
	ErrStoreWrite                = errors.New("subscription store write failed")

	ErrProviderError      = errors.New("subscription provider error")
	ErrProviderNotFound   = errors.New("provider resource not found")
	ErrMissingAPIKey      = errors.New("billing provider API key is required")
	ErrMissingUserID      = errors.New("user ID is required")
	ErrEventPanicked      = errors.New("webhook event handler panicked")
	ErrDeduplicatorFailed = errors.New("webhook event deduplication failed")
)

// IsSkippable reports whether err describes an event that cannot be applied
// and should not be retried: bad payloads and unresolvable identities.
func IsSkippable(err error) bool {
	return errors.Is(err, ErrInvalidPayload) ||
		errors.Is(err, ErrUnverifiedEvent) ||
		errors.Is(err, ErrUserNotFound) ||
		errors.Is(err, ErrCustomerDeleted) ||
		errors.Is(err, ErrMissingCustomer) ||
		errors.Is(err, ErrMissingUserEmail)
}
