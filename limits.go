package main

import "time"

// Operational limits: named constants for values that would otherwise be
// scattered across conn.go/server.go/housekeeper.go.
const (
	// maxLineSize bounds a single newline-delimited frame read from a
	// connection (command or chat frame). Oversized lines close the
	// connection rather than being silently truncated.
	maxLineSize = 64 * 1024

	// writerFlushTimeout bounds how long a write to the underlying socket
	// may take before it counts as a circuit-breaker failure.
	writerFlushTimeout = 5 * time.Second

	// breakerFailureThreshold is the number of consecutive write failures
	// (via gobreaker's ReadyToTrip) before a session's breaker opens.
	breakerFailureThreshold uint32 = 5

	// breakerOpenDuration is how long the breaker stays open before
	// allowing a single probe request through.
	breakerOpenDuration = 30 * time.Second

	// housekeeperInterval is the default tick period for ban/mute expiry
	// and idle-session eviction.
	housekeeperInterval = 60 * time.Second

	// defaultAdminAddr is the bind address for the read-only admin HTTP API.
	defaultAdminAddr = ":8089"
)
