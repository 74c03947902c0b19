// Package logger builds configured log/slog loggers for queuekit services.
//
// New returns a *slog.Logger writing either JSON (production aggregation) or
// text (local development) records. Static attributes such as the service
// name can be attached at construction so every record carries them:
//
//	log := logger.New(
//		logger.WithFormat(logger.FormatJSON),
//		logger.WithLevel(slog.LevelInfo),
//		logger.WithAttr(slog.String("service", "worker")),
//	)
package logger
