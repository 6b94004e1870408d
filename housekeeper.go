package main

import (
	"context"
	"log/slog"
	"time"

	"streamline/internal/core"
)

// RunHousekeeper ticks every interval, expiring bans/mutes and evicting
// idle room members, until ctx is canceled.
func RunHousekeeper(ctx context.Context, disp *core.Dispatcher, interval time.Duration, log *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick(disp, log)
		}
	}
}

func tick(disp *core.Dispatcher, log *slog.Logger) {
	disp.RunHousekeeping(time.Now())
	log.Debug("housekeeper tick complete")
}
