package main

import (
	"context"
	"time"

	"streamline/internal/core"
	"streamline/internal/metrics"
)

// RunMetrics periodically refreshes the gauges that have no natural
// increment/decrement call site (room count), until ctx is canceled.
// Connection and command counters are updated inline at their call sites
// in conn.go and the dispatcher.
func RunMetrics(ctx context.Context, rooms *core.RoomRegistry, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.RoomsTotal.Set(float64(len(rooms.Names())))
		}
	}
}
