/*
Package log provides structured logging for Galaxy built on zerolog.

Call Init once at process start, then use the package-level helpers or
derive child loggers carrying common fields:

	log.Init(log.Config{Level: log.InfoLevel})
	logger := log.WithComponent("orchestrator")
	logger.Info().Str("task_id", id).Msg("task dispatched")

Components hold their own child logger; the global Logger exists for the
CLI entry points.
*/
package log
