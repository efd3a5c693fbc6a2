package subscription

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Status mirrors the provider-reported subscription status.
// Values outside the declared constants are stored verbatim.
type Status string

const (
	StatusTrialing   Status = "trialing"
	StatusActive     Status = "active"
	StatusPastDue    Status = "past_due"
	StatusCanceled   Status = "canceled"
	StatusIncomplete Status = "incomplete"
)

// PlanType is the normalized billing cadence of a subscription.
// It is decoupled from provider price identifiers and intervals.
type PlanType string

const (
	PlanMonthly    PlanType = "monthly"
	PlanQuarterly  PlanType = "quarterly"
	PlanSemiannual PlanType = "semiannual"
	PlanYearly     PlanType = "yearly"
)

// Valid reports whether p is one of the four canonical tiers.
func (p PlanType) Valid() bool {
	switch p {
	case PlanMonthly, PlanQuarterly, PlanSemiannual, PlanYearly:
		return true
	}
	return false
}

// Interval is the provider billing interval unit.
type Interval string

const (
	IntervalDay   Interval = "day"
	IntervalWeek  Interval = "week"
	IntervalMonth Interval = "month"
	IntervalYear  Interval = "year"
)

// User is the local identity that owns subscription records.
type User struct {
	ID                 uuid.UUID
	Email              string
	ProviderCustomerID string // empty until linked
}

// Customer is the subset of the provider customer object the reconciler needs.
type Customer struct {
	ID      string
	Email   string
	Deleted bool
}

// CouponInfo describes a discount applied at checkout.
type CouponInfo struct {
	CouponID        string   `json:"coupon_id"`
	CouponName      string   `json:"coupon_name,omitempty"`
	DiscountAmount  *int64   `json:"discount_amount"`
	DiscountPercent *float64 `json:"discount_percent"`
}

// JSON returns the serialized form stored on the record.
func (c *CouponInfo) JSON() json.RawMessage {
	if c == nil {
		return nil
	}
	b, err := json.Marshal(c)
	if err != nil {
		return nil
	}
	return b
}

// Outcome classifies how a webhook event was handled.
type Outcome string

const (
	OutcomeProcessed Outcome = "processed"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeFailed    Outcome = "failed"
)
