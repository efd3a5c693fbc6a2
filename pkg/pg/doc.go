// Package pg connects subsync to PostgreSQL through a pgx/v5 pool.
//
// Connect opens and pings the pool with retries so the service can start
// alongside the database. Migrate runs the goose migrations embedded in the
// binary (see svc/pgstore/migrations) through the same pool. Healthcheck
// backs the readiness check.
//
// The Is* helpers classify pgx errors by SQLSTATE so stores can map them to
// their own sentinel errors:
//
//	if pg.IsDuplicateKeyError(err) {
//		return errors.Join(subscription.ErrSubscriptionAlreadyExists, err)
//	}
package pg
