// Package logger builds *slog.Logger instances for subsync.
//
// New takes functional options. WithEnvironment picks the format and level for
// the deployment (text at debug for development, JSON at info otherwise) and
// tags every record with service and env. WithConfig applies LOG_LEVEL and
// LOG_FORMAT overrides. WithContextExtractors wraps the handler so that values
// carried by the context, such as the request ID, are added to each record
// written with one of the *Context methods.
//
// attr.go holds constructors for the attribute keys used across the service
// (event_id, customer_id, outcome and so on) so the same key is spelled the
// same way everywhere. Error and UserID return an empty Attr for nil input,
// which lets callers pass them unconditionally.
//
//	log := logger.New(
//		logger.WithEnvironment("production", "subsync"),
//		logger.WithContextExtractors(requestid.LoggerExtractor()),
//	)
//	log.InfoContext(ctx, "Subscription event processed", logger.EventID(ev.ID))
package logger
