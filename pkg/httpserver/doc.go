// Package httpserver runs the subsync HTTP endpoint with graceful shutdown
// and exposes liveness and readiness handlers.
//
//	srv := httpserver.NewFromConfig(cfg, httpserver.WithLogger(log))
//	if err := srv.Run(ctx, router); err != nil {
//		return err
//	}
//
// Run returns nil after a clean shutdown triggered by ctx or by SIGINT and
// SIGTERM. Requests still in flight get Config.ShutdownTimeout to finish.
package httpserver
