package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/dmitrymomot/subsync/pkg/logger"
)

type recordFinder func(ctx context.Context) (*Record, error)

// upsert writes rec as the state of the subscription identified by rec.ProviderSubscriptionID.
func (r *Reconciler) upsert(ctx context.Context, rec *Record) error {
	id := *rec.ProviderSubscriptionID
	return r.upsertBy(ctx, rec, func(ctx context.Context) (*Record, error) {
		return r.records.FindByProviderSubscriptionID(ctx, id)
	})
}

// upsertBy updates the record returned by find, or inserts rec when there is none.
// An insert that loses a race with a concurrent delivery falls back to an update,
// so the last writer wins.
func (r *Reconciler) upsertBy(ctx context.Context, rec *Record, find recordFinder) error {
	if !rec.PlanType.Valid() {
		return errors.Join(ErrInvalidPlanType, fmt.Errorf("plan type %q", rec.PlanType))
	}

	update := RecordUpdate{
		Status:    rec.Status,
		PlanType:  rec.PlanType,
		EndDate:   rec.EndDate,
		UpdatedAt: rec.UpdatedAt,
	}

	existing, err := r.find(ctx, find)
	switch {
	case err == nil:
		return r.update(ctx, existing.ID, update, rec)
	case !errors.Is(err, ErrSubscriptionNotFound):
		return errors.Join(ErrStoreRead, err)
	}

	err = r.insert(ctx, rec)
	if !errors.Is(err, ErrSubscriptionAlreadyExists) {
		return err
	}

	existing, err = r.find(ctx, find)
	if err != nil {
		return errors.Join(ErrStoreRead, err)
	}
	return r.update(ctx, existing.ID, update, rec)
}

func (r *Reconciler) find(ctx context.Context, find recordFinder) (*Record, error) {
	ctx, cancel := r.callContext(ctx)
	defer cancel()
	return find(ctx)
}

func (r *Reconciler) insert(ctx context.Context, rec *Record) error {
	callCtx, cancel := r.callContext(ctx)
	defer cancel()
	err := r.records.Insert(callCtx, rec)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrSubscriptionAlreadyExists):
		return err
	}
	r.logger.ErrorContext(ctx, "Failed to insert subscription record",
		logger.Error(err),
		recordAttr(rec))
	return errors.Join(ErrStoreWrite, err)
}

func (r *Reconciler) update(ctx context.Context, id uuid.UUID, update RecordUpdate, rec *Record) error {
	callCtx, cancel := r.callContext(ctx)
	defer cancel()
	if err := r.records.Update(callCtx, id, update); err != nil {
		r.logger.ErrorContext(ctx, "Failed to update subscription record",
			logger.Error(err),
			slog.String("record_id", id.String()),
			recordAttr(rec))
		return errors.Join(ErrStoreWrite, err)
	}
	return nil
}

func recordAttr(rec *Record) slog.Attr {
	attrs := []slog.Attr{
		logger.UserID(rec.UserID),
		logger.CustomerID(rec.ProviderCustomerID),
		slog.String("status", string(rec.Status)),
		slog.String("plan_type", string(rec.PlanType)),
		slog.Time("start_date", rec.StartDate),
		slog.Time("end_date", rec.EndDate),
	}
	if rec.ProviderSubscriptionID != nil {
		attrs = append(attrs, logger.SubscriptionID(*rec.ProviderSubscriptionID))
	}
	if rec.PaymentIntentID != nil {
		attrs = append(attrs, slog.String("payment_intent_id", *rec.PaymentIntentID))
	}
	return logger.Group("record", attrs...)
}
