package pgstore

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dmitrymomot/subsync/pkg/pg"
	"github.com/dmitrymomot/subsync/pkg/subscription"
)

// DB is the subset of pgx shared by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements subscription.IdentityStore and subscription.SubscriptionStore on Postgres.
type Store struct {
	db DB
}

// New creates a store over db.
func New(db DB) *Store {
	if db == nil {
		panic("pgstore: db is required")
	}
	return &Store{db: db}
}

const (
	userColumns = `id, email, COALESCE(provider_customer_id, '')`

	recordColumns = `id, user_id, provider_customer_id, provider_subscription_id, status, plan_type,
		start_date, end_date, coupon_info, payment_intent_id, updated_at`

	queryUserByCustomer = `SELECT ` + userColumns + ` FROM users WHERE provider_customer_id = $1`
	queryUserByEmail    = `SELECT ` + userColumns + ` FROM users WHERE lower(email) = lower($1)`
	queryLinkCustomer   = `UPDATE users SET provider_customer_id = $2, updated_at = now() WHERE id = $1`
	queryCreateUser     = `INSERT INTO users (id, email, provider_customer_id) VALUES ($1, $2, NULLIF($3, ''))`

	queryRecordBySubscription = `SELECT ` + recordColumns + ` FROM subscriptions WHERE provider_subscription_id = $1`
	queryRecordByIntent       = `SELECT ` + recordColumns + ` FROM subscriptions WHERE payment_intent_id = $1`

	queryInsertRecord = `INSERT INTO subscriptions (` + recordColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	queryUpdateRecord = `UPDATE subscriptions
		SET status = $2, plan_type = $3, end_date = $4, updated_at = $5
		WHERE id = $1`
)

func (s *Store) FindUserByProviderCustomerID(ctx context.Context, customerID string) (*subscription.User, error) {
	return s.findUser(ctx, queryUserByCustomer, customerID)
}

func (s *Store) FindUserByEmail(ctx context.Context, email string) (*subscription.User, error) {
	return s.findUser(ctx, queryUserByEmail, email)
}

func (s *Store) findUser(ctx context.Context, query string, arg string) (*subscription.User, error) {
	var u subscription.User
	err := s.db.QueryRow(ctx, query, arg).Scan(&u.ID, &u.Email, &u.ProviderCustomerID)
	if pg.IsNotFoundError(err) {
		return nil, subscription.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) UpdateUserProviderCustomerID(ctx context.Context, userID uuid.UUID, customerID string) error {
	tag, err := s.db.Exec(ctx, queryLinkCustomer, userID, customerID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return subscription.ErrUserNotFound
	}
	return nil
}

// CreateUser inserts a local user.
func (s *Store) CreateUser(ctx context.Context, u subscription.User) error {
	_, err := s.db.Exec(ctx, queryCreateUser, u.ID, u.Email, u.ProviderCustomerID)
	if pg.IsDuplicateKeyError(err) {
		return errors.Join(ErrUserExists, err)
	}
	return err
}

func (s *Store) FindByProviderSubscriptionID(ctx context.Context, providerSubscriptionID string) (*subscription.Record, error) {
	return s.findRecord(ctx, queryRecordBySubscription, providerSubscriptionID)
}

func (s *Store) FindByPaymentIntentID(ctx context.Context, paymentIntentID string) (*subscription.Record, error) {
	return s.findRecord(ctx, queryRecordByIntent, paymentIntentID)
}

func (s *Store) findRecord(ctx context.Context, query string, arg string) (*subscription.Record, error) {
	var (
		r            subscription.Record
		status, plan string
		coupon       []byte
	)
	err := s.db.QueryRow(ctx, query, arg).Scan(
		&r.ID, &r.UserID, &r.ProviderCustomerID, &r.ProviderSubscriptionID,
		&status, &plan, &r.StartDate, &r.EndDate,
		&coupon, &r.PaymentIntentID, &r.UpdatedAt,
	)
	if pg.IsNotFoundError(err) {
		return nil, subscription.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, err
	}
	r.Status = subscription.Status(status)
	r.PlanType = subscription.PlanType(plan)
	r.CouponInfo = coupon
	r.StartDate = r.StartDate.UTC()
	r.EndDate = r.EndDate.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()
	return &r, nil
}

// Insert creates a record. Unique violations on the provider subscription or
// payment intent ID surface as subscription.ErrSubscriptionAlreadyExists; an
// unknown user surfaces as subscription.ErrUserNotFound.
func (s *Store) Insert(ctx context.Context, r *subscription.Record) error {
	updatedAt := r.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}
	var coupon []byte
	if len(r.CouponInfo) > 0 {
		coupon = r.CouponInfo
	}
	_, err := s.db.Exec(ctx, queryInsertRecord,
		r.ID, r.UserID, r.ProviderCustomerID, r.ProviderSubscriptionID,
		string(r.Status), string(r.PlanType), r.StartDate, r.EndDate,
		coupon, r.PaymentIntentID, updatedAt,
	)
	switch {
	case err == nil:
		return nil
	case pg.IsDuplicateKeyError(err):
		return errors.Join(subscription.ErrSubscriptionAlreadyExists, err)
	case pg.IsForeignKeyViolationError(err):
		return errors.Join(subscription.ErrUserNotFound, err)
	}
	return err
}

func (s *Store) Update(ctx context.Context, id uuid.UUID, u subscription.RecordUpdate) error {
	tag, err := s.db.Exec(ctx, queryUpdateRecord, id, string(u.Status), string(u.PlanType), u.EndDate, u.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return subscription.ErrSubscriptionNotFound
	}
	return nil
}
