package subscription

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrymomot/subsync/pkg/logger"
)

// resolveUser maps a provider customer to a local user. When no user is linked yet
// it looks the customer up on the provider side, matches the user by email and
// persists the link so later events resolve directly.
func (r *Reconciler) resolveUser(ctx context.Context, customerID string) (*User, error) {
	if customerID == "" {
		return nil, ErrMissingCustomer
	}

	user, err := r.findUserByCustomer(ctx, customerID)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return nil, errors.Join(ErrStoreRead, err)
	}

	customer, err := r.getCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if customer.Deleted {
		return nil, errors.Join(ErrCustomerDeleted, fmt.Errorf("customer %s", customerID))
	}
	if customer.Email == "" {
		return nil, errors.Join(ErrMissingUserEmail, fmt.Errorf("customer %s", customerID))
	}

	user, err = r.findUserByEmail(ctx, customer.Email)
	if errors.Is(err, ErrUserNotFound) {
		return nil, errors.Join(ErrUserNotFound, fmt.Errorf("no user with the email of customer %s", customerID))
	}
	if err != nil {
		return nil, errors.Join(ErrStoreRead, err)
	}

	if err := r.linkCustomer(ctx, user, customerID); err != nil {
		return nil, errors.Join(ErrStoreWrite, err)
	}
	return user, nil
}

func (r *Reconciler) findUserByCustomer(ctx context.Context, customerID string) (*User, error) {
	ctx, cancel := r.callContext(ctx)
	defer cancel()
	return r.identities.FindUserByProviderCustomerID(ctx, customerID)
}

func (r *Reconciler) findUserByEmail(ctx context.Context, email string) (*User, error) {
	ctx, cancel := r.callContext(ctx)
	defer cancel()
	return r.identities.FindUserByEmail(ctx, email)
}

func (r *Reconciler) linkCustomer(ctx context.Context, user *User, customerID string) error {
	ctx, cancel := r.callContext(ctx)
	defer cancel()
	if err := r.identities.UpdateUserProviderCustomerID(ctx, user.ID, customerID); err != nil {
		return err
	}
	user.ProviderCustomerID = customerID
	r.metrics.customerLinked()
	r.logger.InfoContext(ctx, "Linked provider customer to user",
		logger.UserID(user.ID),
		logger.CustomerID(customerID))
	return nil
}
