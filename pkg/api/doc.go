// Package api defines the public types of the duplex sync engine: canonical
// workflow events, the normalized records derived from them, the typed error
// kinds of the pipeline, and the Observer used for logging and metrics.
//
// The package is intentionally free of store dependencies so that both store
// adapters and callers can depend on it without pulling in drivers.
package api
