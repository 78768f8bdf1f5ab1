/*
Package log provides structured logging for AtlasNet using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging
with component-specific loggers, configurable log levels, and helper functions
for common logging patterns. Every shard process initializes the global logger
once via log.Init and derives child loggers per subsystem:

	logger := log.WithComponent("transfer-coordinator")
	logger.Debug().Str("transfer_id", id.String()).Msg("scheduled transfer")

Context helpers add the fields that recur across the runtime: WithIdentity
tags logs with a shard's network identity, WithTransferID with an in-flight
handoff, WithBoundID with a spatial bound.

Fatal is reserved for invariant violations (duplicate entity registration,
claim of an already-claimed bound). It flushes and exits non-zero so that
container orchestration restarts the process cleanly.
*/
package log
