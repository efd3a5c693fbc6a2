package subscription

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// EventType is the provider event name, e.g. "customer.subscription.updated".
type EventType string

const (
	EventCheckoutSessionCompleted EventType = "checkout.session.completed"
	EventPaymentIntentSucceeded   EventType = "payment_intent.succeeded"
	EventInvoicePaymentSucceeded  EventType = "invoice.payment_succeeded"
	EventSubscriptionCreated      EventType = "customer.subscription.created"
	EventSubscriptionUpdated      EventType = "customer.subscription.updated"
	EventSubscriptionDeleted      EventType = "customer.subscription.deleted"
)

// Event is a normalized provider event envelope.
// Object holds the raw data.object payload; decode it with the typed accessors.
type Event struct {
	ID       string
	Type     EventType
	Created  time.Time
	Object   json.RawMessage
	Verified bool
	// VerifyErr is set when signature verification failed and the event
	// was accepted through the unverified fallback.
	VerifyErr error
}

type rawEnvelope struct {
	ID      string    `json:"id"`
	Type    EventType `json:"type"`
	Created int64     `json:"created"`
	Data    struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// parseUnverified decodes an event envelope without any authenticity check.
func parseUnverified(payload []byte) (*Event, error) {
	var env rawEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, errors.Join(ErrInvalidPayload, err)
	}
	if env.Type == "" {
		return nil, errors.Join(ErrInvalidPayload, errors.New("event type is missing"))
	}
	if len(env.Data.Object) == 0 || bytes.Equal(env.Data.Object, []byte("null")) {
		return nil, errors.Join(ErrInvalidPayload, errors.New("event data.object is missing"))
	}
	return &Event{
		ID:      env.ID,
		Type:    env.Type,
		Created: unixTime(env.Created),
		Object:  env.Data.Object,
	}, nil
}

// ExpandableID decodes a provider reference that is either an ID string
// or an expanded object carrying an "id" field.
type ExpandableID string

func (e *ExpandableID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0 || bytes.Equal(b, []byte("null")):
		*e = ""
		return nil
	case b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*e = ExpandableID(s)
		return nil
	case b[0] == '{':
		var obj struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(b, &obj); err != nil {
			return err
		}
		*e = ExpandableID(obj.ID)
		return nil
	default:
		return fmt.Errorf("unexpected reference value %s", b)
	}
}

func (e ExpandableID) String() string { return string(e) }

// CheckoutSession is the checkout.session.completed payload.
type CheckoutSession struct {
	ID            string            `json:"id" validate:"required"`
	Customer      ExpandableID      `json:"customer"`
	Subscription  ExpandableID      `json:"subscription"`
	PaymentStatus string            `json:"payment_status"`
	Mode          string            `json:"mode"`
	Metadata      map[string]string `json:"metadata"`
}

// Paid reports whether the session completed with a settled payment.
func (s *CheckoutSession) Paid() bool {
	return s.PaymentStatus == "paid"
}

// PaymentIntent is the payment_intent.succeeded payload.
type PaymentIntent struct {
	ID       string            `json:"id" validate:"required"`
	Customer ExpandableID      `json:"customer"`
	Status   string            `json:"status"`
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Metadata map[string]string `json:"metadata"`
}

// Invoice is the invoice.payment_succeeded payload.
type Invoice struct {
	ID            string       `json:"id" validate:"required"`
	Customer      ExpandableID `json:"customer"`
	Subscription  ExpandableID `json:"subscription"`
	PaymentIntent ExpandableID `json:"payment_intent"`
	Parent        *struct {
		SubscriptionDetails *struct {
			Subscription ExpandableID `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
}

// SubscriptionID returns the linked subscription. Newer API versions moved the
// reference under parent.subscription_details.
func (i *Invoice) SubscriptionID() string {
	if i.Subscription != "" {
		return i.Subscription.String()
	}
	if i.Parent != nil && i.Parent.SubscriptionDetails != nil {
		return i.Parent.SubscriptionDetails.Subscription.String()
	}
	return ""
}

// ProviderSubscription is the provider's subscription object, received either as
// a customer.subscription.* payload or from the provider API.
type ProviderSubscription struct {
	ID                 string            `json:"id" validate:"required"`
	Customer           ExpandableID      `json:"customer" validate:"required"`
	Status             Status            `json:"status" validate:"required"`
	CurrentPeriodStart int64             `json:"current_period_start"`
	CurrentPeriodEnd   int64             `json:"current_period_end"`
	Metadata           map[string]string `json:"metadata"`
	Items              struct {
		Data []SubscriptionItem `json:"data"`
	} `json:"items"`
	Discount *Discount `json:"discount"`
}

// SubscriptionItem is a line of a provider subscription.
type SubscriptionItem struct {
	ID                 string `json:"id"`
	CurrentPeriodStart int64  `json:"current_period_start"`
	CurrentPeriodEnd   int64  `json:"current_period_end"`
	Price              *Price `json:"price"`
}

// Price is the priced component of a subscription item.
type Price struct {
	ID        string     `json:"id"`
	Recurring *Recurring `json:"recurring"`
}

// Recurring is the billing cadence of a price.
type Recurring struct {
	Interval      Interval `json:"interval"`
	IntervalCount int64    `json:"interval_count"`
}

// Discount is an applied discount; only the coupon is read.
type Discount struct {
	Coupon *struct {
		ID         string   `json:"id"`
		Name       string   `json:"name"`
		AmountOff  *int64   `json:"amount_off"`
		PercentOff *float64 `json:"percent_off"`
	} `json:"coupon"`
}

// Recurring returns the cadence of the first priced item, or nil.
func (s *ProviderSubscription) Recurring() *Recurring {
	for _, item := range s.Items.Data {
		if item.Price != nil && item.Price.Recurring != nil {
			return item.Price.Recurring
		}
	}
	return nil
}

// PlanType classifies the subscription's billing cadence.
func (s *ProviderSubscription) PlanType() PlanType {
	rec := s.Recurring()
	if rec == nil {
		return PlanMonthly
	}
	count := rec.IntervalCount
	if count == 0 {
		count = 1
	}
	return ClassifyInterval(rec.Interval, count)
}

// PeriodStart returns the current billing period start, falling back to the
// first item's period for API versions that moved it there. Zero if unknown.
func (s *ProviderSubscription) PeriodStart() time.Time {
	if s.CurrentPeriodStart > 0 {
		return unixTime(s.CurrentPeriodStart)
	}
	for _, item := range s.Items.Data {
		if item.CurrentPeriodStart > 0 {
			return unixTime(item.CurrentPeriodStart)
		}
	}
	return time.Time{}
}

// CouponInfo returns the applied coupon, or nil.
func (s *ProviderSubscription) CouponInfo() *CouponInfo {
	if s.Discount == nil || s.Discount.Coupon == nil {
		return nil
	}
	c := s.Discount.Coupon
	return &CouponInfo{
		CouponID:        c.ID,
		CouponName:      c.Name,
		DiscountAmount:  c.AmountOff,
		DiscountPercent: c.PercentOff,
	}
}

var validate = validator.New()

// decodeObject unmarshals and validates the event's data.object into T.
func decodeObject[T any](ev *Event) (*T, error) {
	v := new(T)
	if err := json.Unmarshal(ev.Object, v); err != nil {
		return nil, errors.Join(ErrInvalidPayload, fmt.Errorf("decode %s: %w", ev.Type, err))
	}
	if err := validate.Struct(v); err != nil {
		return nil, errors.Join(ErrInvalidPayload, fmt.Errorf("validate %s: %w", ev.Type, err))
	}
	return v, nil
}

// DecodeSubscription decodes and validates a raw provider subscription object.
func DecodeSubscription(raw []byte) (*ProviderSubscription, error) {
	return decodeObject[ProviderSubscription](&Event{Type: "subscription", Object: raw})
}

func unixTime(sec int64) time.Time {
	if sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}
