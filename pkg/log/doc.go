/*
Package log provides structured logging for entityd using zerolog.

It wraps zerolog to give every component (entity store, cache, update
manager, event bus) a component-scoped child logger with consistent
fields, configurable level, and either console or JSON output.

# Usage

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})
	logger := log.WithComponent("updatemgr")
	logger.Info().Int("pending", 4).Msg("commit tick starting")

Component loggers attach a "component" field; WithSite, WithEntityID, and
WithSubscriptionID attach the identifiers most log call sites need without
repeating Str/Uint64 boilerplate at each call site.
*/
package log
