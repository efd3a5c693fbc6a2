package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dmitrymomot/subsync/modules/webhooks"
	"github.com/dmitrymomot/subsync/pkg/config"
	"github.com/dmitrymomot/subsync/pkg/httpserver"
	"github.com/dmitrymomot/subsync/pkg/logger"
	"github.com/dmitrymomot/subsync/pkg/pg"
	"github.com/dmitrymomot/subsync/pkg/redis"
	"github.com/dmitrymomot/subsync/pkg/requestid"
	"github.com/dmitrymomot/subsync/pkg/subscription"
	"github.com/dmitrymomot/subsync/svc/pgstore/migrations"
)

type appConfig struct {
	Env         string        `env:"APP_ENV" envDefault:"development"`
	Name        string        `env:"APP_NAME" envDefault:"subsync"`
	StoreDriver string        `env:"STORE_DRIVER" envDefault:"postgres" validate:"oneof=postgres memory"`
	CallTimeout time.Duration `env:"PROVIDER_CALL_TIMEOUT" envDefault:"10s" validate:"gt=0"`
	Log         logger.Config
}

// ackWriteMargin covers reading the body and writing the ack around event handling.
const ackWriteMargin = 5 * time.Second

const usage = `usage: subsync [command]

commands:
  serve               run the webhook server (default)
  migrate             apply database migrations
  trial -user <uuid>  grant a free trial to a user
`

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		slog.Error("subsync stopped", logger.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	var app appConfig
	if err := config.Load(&app); err != nil {
		return err
	}

	log := logger.New(
		logger.WithEnvironment(app.Env, app.Name),
		logger.WithConfig(app.Log),
		logger.WithContextExtractors(requestid.LoggerExtractor()),
	)
	logger.SetAsDefault(log)

	cmd := "serve"
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	switch cmd {
	case "serve":
		return serve(ctx, app, log)
	case "migrate":
		return migrate(ctx, log)
	case "trial":
		return trial(ctx, app, log, args)
	case "help", "-h", "--help":
		fmt.Fprint(os.Stdout, usage)
		return nil
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func serve(ctx context.Context, app appConfig, log *slog.Logger) error {
	var (
		stripeCfg  subscription.StripeConfig
		breakerCfg subscription.BreakerConfig
		redisCfg   redis.Config
		httpCfg    httpserver.Config
	)
	if err := errors.Join(
		config.Load(&stripeCfg),
		config.Load(&breakerCfg),
		config.Load(&redisCfg),
		config.Load(&httpCfg),
	); err != nil {
		return err
	}

	st, err := openStore(ctx, app, log)
	if err != nil {
		return err
	}
	defer st.close()

	stripeProvider, err := subscription.NewStripeProvider(stripeCfg)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	opts := []subscription.Option{
		subscription.WithLogger(log),
		subscription.WithCallTimeout(app.CallTimeout),
		subscription.WithMetrics(subscription.NewMetrics(reg)),
	}

	if redisCfg.Enabled() {
		client, err := redis.Connect(ctx, redisCfg)
		if err != nil {
			return err
		}
		defer client.Close()
		opts = append(opts, subscription.WithDeduper(redis.NewDeduper(client, redisCfg)))
		st.ready = append(st.ready, redis.Healthcheck(client))
	} else {
		log.WarnContext(ctx, "REDIS_URL is not set, redelivered events are deduplicated by upsert only")
	}

	if stripeCfg.WebhookSecret == "" {
		log.WarnContext(ctx, "STRIPE_WEBHOOK_SECRET is not set, webhook signatures are not verified")
	}

	reconciler := subscription.NewReconciler(
		st.identities,
		st.records,
		subscription.WithCircuitBreaker(stripeProvider, breakerCfg, log),
		opts...,
	)
	parser := subscription.NewEventParser(stripeCfg.WebhookSecret, stripeCfg.StrictWebhooks)

	// The ack is written after handling, so the write deadline must outlast it.
	if raised, ok := httpCfg.AtLeastWriteTimeout(reconciler.EventBudget() + ackWriteMargin); ok {
		log.WarnContext(ctx, "HTTP_WRITE_TIMEOUT is shorter than the event handling budget, raising it",
			slog.Duration("configured", httpCfg.WriteTimeout),
			slog.Duration("effective", raised.WriteTimeout))
		httpCfg = raised
	}

	r := chi.NewRouter()
	r.Use(requestid.Middleware)
	r.Mount("/webhooks", webhooks.Router(webhooks.RouterOptions{
		Stripe: subscription.NewWebhookHandler(parser, reconciler, log),
	}))
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	r.Get("/health/live", httpserver.HealthCheckHandler(log))
	r.Get("/health/ready", httpserver.HealthCheckHandler(log, st.ready...))

	srv := httpserver.NewFromConfig(httpCfg,
		httpserver.WithLogger(log),
		httpserver.WithStartHook(func(l *slog.Logger) {
			l.Info("Webhook server started",
				slog.String("addr", httpCfg.Addr),
				slog.String("store", app.StoreDriver))
		}),
		httpserver.WithStopHook(func(l *slog.Logger) {
			l.Info("Webhook server stopped")
		}),
	)
	return srv.Run(ctx, r)
}

func migrate(ctx context.Context, log *slog.Logger) error {
	var cfg pg.Config
	if err := config.Load(&cfg); err != nil {
		return err
	}

	pool, err := pg.Connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := pg.Migrate(ctx, pool, migrations.FS, cfg, log); err != nil {
		return err
	}
	log.InfoContext(ctx, "Migrations applied")
	return nil
}

func trial(ctx context.Context, app appConfig, log *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("trial", flag.ContinueOnError)
	userFlag := fs.String("user", "", "ID of the user to grant the trial to")
	if err := fs.Parse(args); err != nil {
		return err
	}

	userID, err := uuid.Parse(*userFlag)
	if err != nil {
		return errors.Join(subscription.ErrMissingUserID, err)
	}

	st, err := openStore(ctx, app, log)
	if err != nil {
		return err
	}
	defer st.close()

	reconciler := subscription.NewReconciler(st.identities, st.records, offlineProvider{},
		subscription.WithLogger(log),
		subscription.WithCallTimeout(app.CallTimeout),
	)
	rec, err := reconciler.ActivateTrial(ctx, userID)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "trial %s active until %s\n", rec.ID, rec.EndDate.Format(time.RFC3339))
	return nil
}
