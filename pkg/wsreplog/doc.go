/*
Package wsreplog provides structured logging for wsrep-lib using zerolog.

A package-level Logger is initialized through Init and refined with the
With* helpers (WithComponent, WithServer, WithClient, WithTransaction).
Components that need to be testable without global state take a Sink,
the narrow Logf capability, instead of the package logger; DefaultSink
bridges the two.

# Usage

	wsreplog.Init(wsreplog.Config{Level: wsreplog.InfoLevel, JSONOutput: true})

	log := wsreplog.WithComponent("dispatcher")
	log.Warn().Str("origin", origin.String()).Msg("applier not found")

A DBMS embedding this library can leave Init untouched and instead
implement Sink over its own logging, passing it to the components that
accept one.
*/
package wsreplog
