package subscription

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/dmitrymomot/subsync/pkg/logger"
)

// TrialCustomerID is the placeholder customer reference stored on trial records.
func TrialCustomerID(userID uuid.UUID) string {
	return "trial-customer-" + userID.String()
}

// ActivateTrial grants userID a free trial starting now. Trials are never
// extended: a second call creates a separate record.
func (r *Reconciler) ActivateTrial(ctx context.Context, userID uuid.UUID) (*Record, error) {
	if userID == uuid.Nil {
		return nil, ErrMissingUserID
	}

	now := r.now().UTC()
	rec := &Record{
		ID:                 uuid.New(),
		UserID:             userID,
		ProviderCustomerID: TrialCustomerID(userID),
		Status:             StatusTrialing,
		PlanType:           PlanMonthly,
		StartDate:          now,
		EndDate:            now.Add(TrialDuration),
		UpdatedAt:          now,
	}

	ctx, cancel := r.callContext(ctx)
	defer cancel()
	if err := r.records.Insert(ctx, rec); err != nil {
		return nil, errors.Join(ErrStoreWrite, err)
	}

	r.logger.InfoContext(ctx, "Trial activated",
		logger.UserID(userID),
		logger.SubscriptionID(rec.ID))
	return rec, nil
}
