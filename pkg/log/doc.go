/*
Package log provides structured logging for the workspace runtime using
zerolog.

The log package wraps zerolog to provide JSON-structured logging with
component-specific child loggers, configurable log levels, and helper
functions for common logging patterns. All logs include timestamps and
support filtering by severity level.

# Usage

Initializing the logger:

	import "github.com/epicenterlabs/epicenter/pkg/log"

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

Component loggers:

	busLog := log.WithComponent("bus")
	busLog.Info().Msg("dispatch started")

	wsLog := log.WithWorkspace("notes")
	wsLog.Info().Msg("workspace opened")

	tableLog := log.WithTable("notes", "pages")
	tableLog.Debug().Str("row_id", id).Msg("row inserted")

	matLog := log.WithMaterializer("notes", "sqlite")
	matLog.Error().Err(err).Msg("pull failed")

# Design

Global logger pattern: one package-level Logger, initialized once, used
from every package without being passed around. Context loggers attach
structured fields (workspace, table, materializer) so log lines can be
filtered and aggregated without string parsing.
*/
package log
