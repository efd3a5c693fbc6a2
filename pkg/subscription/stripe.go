package subscription

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"github.com/stripe/stripe-go/v82/webhook"
)

// StripeConfig holds configuration for the Stripe provider and webhook verification.
type StripeConfig struct {
	SecretKey     string `env:"STRIPE_SECRET_KEY,required" validate:"startswith=sk_|startswith=rk_"`
	WebhookSecret string `env:"STRIPE_WEBHOOK_SECRET"`
	// StrictWebhooks drops events whose signature cannot be verified instead of
	// falling back to unverified parsing. Has no effect without WebhookSecret.
	StrictWebhooks bool `env:"STRIPE_WEBHOOK_STRICT" envDefault:"false"`
}

// StripeProvider implements Provider on top of a per-instance Stripe client.
type StripeProvider struct {
	api *client.API
}

// NewStripeProvider creates a Stripe-backed provider.
// The client is owned by the provider; the package-level stripe.Key is never touched.
func NewStripeProvider(cfg StripeConfig) (*StripeProvider, error) {
	if cfg.SecretKey == "" {
		return nil, ErrMissingAPIKey
	}
	api := &client.API{}
	api.Init(cfg.SecretKey, nil)
	return NewStripeProviderWithClient(api), nil
}

// NewStripeProviderWithClient wraps an already initialized client, e.g. one
// pointed at a mock backend.
func NewStripeProviderWithClient(api *client.API) *StripeProvider {
	return &StripeProvider{api: api}
}

// GetCustomer fetches a customer by ID.
func (p *StripeProvider) GetCustomer(ctx context.Context, customerID string) (*Customer, error) {
	params := &stripe.CustomerParams{}
	params.Context = ctx

	c, err := p.api.Customers.Get(customerID, params)
	if err != nil {
		return nil, wrapStripeError(err)
	}
	return &Customer{ID: c.ID, Email: c.Email, Deleted: c.Deleted}, nil
}

// GetSubscription fetches a subscription by ID.
func (p *StripeProvider) GetSubscription(ctx context.Context, subscriptionID string) (*ProviderSubscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx

	s, err := p.api.Subscriptions.Get(subscriptionID, params)
	if err != nil {
		return nil, wrapStripeError(err)
	}
	return fromStripeSubscription(s)
}

// UpdateSubscriptionStatus forces a status transition on the subscription.
// Status is not a typed parameter in the SDK, so it is sent as an extra form field.
func (p *StripeProvider) UpdateSubscriptionStatus(ctx context.Context, subscriptionID string, update SubscriptionUpdate) (*ProviderSubscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	if update.Status != "" {
		params.AddExtra("status", string(update.Status))
	}
	if update.BillingCycleAnchor != nil {
		params.BillingCycleAnchor = stripe.Int64(update.BillingCycleAnchor.Unix())
	}
	if update.NoProration {
		params.ProrationBehavior = stripe.String("none")
	}

	s, err := p.api.Subscriptions.Update(subscriptionID, params)
	if err != nil {
		return nil, wrapStripeError(err)
	}
	return fromStripeSubscription(s)
}

// fromStripeSubscription prefers the raw API response so the narrow payload schema
// is shared with webhook events; the typed fields are the fallback.
func fromStripeSubscription(s *stripe.Subscription) (*ProviderSubscription, error) {
	if s == nil {
		return nil, errors.Join(ErrProviderError, errors.New("empty subscription response"))
	}
	if s.LastResponse != nil && len(s.LastResponse.RawJSON) > 0 {
		return DecodeSubscription(s.LastResponse.RawJSON)
	}

	out := &ProviderSubscription{
		ID:     s.ID,
		Status: Status(s.Status),
	}
	if s.Customer != nil {
		out.Customer = ExpandableID(s.Customer.ID)
	}
	if s.Items != nil {
		for _, item := range s.Items.Data {
			if item == nil {
				continue
			}
			si := SubscriptionItem{ID: item.ID}
			if item.Price != nil {
				si.Price = &Price{ID: item.Price.ID}
				if item.Price.Recurring != nil {
					si.Price.Recurring = &Recurring{
						Interval:      Interval(item.Price.Recurring.Interval),
						IntervalCount: item.Price.Recurring.IntervalCount,
					}
				}
			}
			out.Items.Data = append(out.Items.Data, si)
		}
	}
	return out, nil
}

func wrapStripeError(err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) && stripeErr.Code == stripe.ErrorCodeResourceMissing {
		return errors.Join(ErrProviderNotFound, err)
	}
	return errors.Join(ErrProviderError, err)
}

// EventParser verifies and normalizes inbound Stripe webhook payloads.
type EventParser struct {
	secret string
	strict bool
}

// NewEventParser returns a parser. With an empty secret every event is parsed
// unverified. In strict mode, events failing verification are rejected.
func NewEventParser(secret string, strict bool) *EventParser {
	return &EventParser{secret: secret, strict: strict}
}

// Parse turns a raw body and Stripe-Signature header into an Event.
func (p *EventParser) Parse(payload []byte, signature string) (*Event, error) {
	if len(bytes.TrimSpace(payload)) == 0 {
		return nil, errors.Join(ErrInvalidPayload, errors.New("empty body"))
	}

	if p.secret == "" {
		return parseUnverified(payload)
	}

	if signature == "" {
		if p.strict {
			return nil, errors.Join(ErrUnverifiedEvent, errors.New("signature header is missing"))
		}
		return parseUnverified(payload)
	}

	se, err := webhook.ConstructEventWithOptions(payload, signature, p.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err == nil {
		ev := &Event{
			ID:       se.ID,
			Type:     EventType(se.Type),
			Created:  unixTime(se.Created),
			Verified: true,
		}
		if se.Data != nil {
			ev.Object = se.Data.Raw
		}
		if len(ev.Object) == 0 {
			return nil, errors.Join(ErrInvalidPayload, fmt.Errorf("event %s has no data.object", se.ID))
		}
		return ev, nil
	}

	verifyErr := errors.Join(ErrWebhookVerificationFailed, err)
	if p.strict {
		return nil, errors.Join(ErrUnverifiedEvent, verifyErr)
	}

	ev, perr := parseUnverified(payload)
	if perr != nil {
		return nil, errors.Join(perr, verifyErr)
	}
	ev.VerifyErr = verifyErr
	return ev, nil
}
