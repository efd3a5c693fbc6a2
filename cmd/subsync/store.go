package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dmitrymomot/subsync/pkg/config"
	"github.com/dmitrymomot/subsync/pkg/pg"
	"github.com/dmitrymomot/subsync/pkg/subscription"
	"github.com/dmitrymomot/subsync/svc/pgstore"
)

type stores struct {
	identities subscription.IdentityStore
	records    subscription.SubscriptionStore
	ready      []func(context.Context) error
	close      func()
}

func openStore(ctx context.Context, app appConfig, log *slog.Logger) (*stores, error) {
	switch app.StoreDriver {
	case "memory":
		log.WarnContext(ctx, "Using in-memory store, data is lost on restart")
		mem := subscription.NewMemoryStore()
		return &stores{identities: mem, records: mem, close: func() {}}, nil

	case "postgres", "":
		var cfg pg.Config
		if err := config.Load(&cfg); err != nil {
			return nil, err
		}
		pool, err := pg.Connect(ctx, cfg)
		if err != nil {
			return nil, err
		}
		store := pgstore.New(pool)
		return &stores{
			identities: store,
			records:    store,
			ready:      []func(context.Context) error{pg.Healthcheck(pool)},
			close:      pool.Close,
		}, nil

	default:
		return nil, fmt.Errorf("unsupported STORE_DRIVER %q", app.StoreDriver)
	}
}

// offlineProvider backs commands that never reach the payment provider.
type offlineProvider struct{}

func (offlineProvider) GetCustomer(context.Context, string) (*subscription.Customer, error) {
	return nil, subscription.ErrProviderError
}

func (offlineProvider) GetSubscription(context.Context, string) (*subscription.ProviderSubscription, error) {
	return nil, subscription.ErrProviderError
}

func (offlineProvider) UpdateSubscriptionStatus(context.Context, string, subscription.SubscriptionUpdate) (*subscription.ProviderSubscription, error) {
	return nil, subscription.ErrProviderError
}
