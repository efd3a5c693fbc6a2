package subscription

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Record is the local, canonical representation of a user's entitlement.
// At most one record exists per non-empty ProviderSubscriptionID.
type Record struct {
	ID                     uuid.UUID
	UserID                 uuid.UUID
	ProviderCustomerID     string
	ProviderSubscriptionID *string // nil for trials and one-off payments
	Status                 Status
	PlanType               PlanType
	StartDate              time.Time
	EndDate                time.Time
	CouponInfo             json.RawMessage // set only at creation
	PaymentIntentID        *string
	UpdatedAt              time.Time
}

// RecordUpdate holds the fields the reconciler rewrites on an existing record.
// StartDate and CouponInfo are deliberately absent: they are set once at creation.
type RecordUpdate struct {
	Status    Status
	PlanType  PlanType
	EndDate   time.Time
	UpdatedAt time.Time
}

// Apply copies the update onto r.
func (u RecordUpdate) Apply(r *Record) {
	r.Status = u.Status
	r.PlanType = u.PlanType
	r.EndDate = u.EndDate
	r.UpdatedAt = u.UpdatedAt
}

func (r *Record) IsTrialing() bool {
	return r.Status == StatusTrialing
}

func (r *Record) IsActive() bool {
	return r.Status == StatusActive
}

// EntitledAt reports whether the record grants access at the given time.
func (r *Record) EntitledAt(now time.Time) bool {
	if !r.IsActive() && !r.IsTrialing() {
		return false
	}
	return now.Before(r.EndDate)
}

// DaysRemainingAt returns the whole days left in the validity window.
// Partial days round to the nearest day.
func (r *Record) DaysRemainingAt(now time.Time) int {
	remaining := r.EndDate.Sub(now)
	if remaining <= 0 {
		return 0
	}
	days := remaining.Hours() / 24
	return int(days + 0.5)
}

// StringPtr returns a pointer to s, or nil when s is empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
