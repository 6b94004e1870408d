package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"streamline/internal/core"
	"streamline/internal/httpapi"
	"streamline/internal/store"
)

// Version is the server's reported build version.
const Version = "0.1.0"

func main() {
	if len(os.Args) > 1 {
		if RunCLI(os.Args[1:], "data") {
			return
		}
	}

	addr := flag.String("addr", ":7777", "chat TCP listen address")
	adminAddr := flag.String("admin-addr", defaultAdminAddr, "admin HTTP API listen address (empty to disable)")
	dataDir := flag.String("data-dir", "data", "directory holding users.json, rooms.json and the vault/logs trees")
	hkInterval := flag.Duration("housekeeper-interval", housekeeperInterval, "ban/mute expiry and idle-eviction tick period")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(*logLevel)}))
	slog.SetDefault(logger)

	st := store.New(*dataDir)
	dir := core.NewDirectory()
	rooms := core.NewRoomRegistry()

	if err := st.LoadUsers(dir); err != nil {
		log.Fatalf("[store] load users: %v", err)
	}
	if err := st.LoadRooms(rooms); err != nil {
		log.Fatalf("[store] load rooms: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stopCoalescers := make(chan struct{})
	snap := newSnapshotAdapter(st, dir, rooms, stopCoalescers, logger)
	disp := core.NewDispatcher(dir, rooms, snap, st)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutting down")
		cancel()
	}()

	chatServer := NewServer(*addr, disp, logger)
	go func() {
		if err := chatServer.Run(ctx); err != nil {
			logger.Error("chat server stopped", "err", err)
		}
	}()

	go RunHousekeeper(ctx, disp, *hkInterval, logger)
	go RunMetrics(ctx, rooms, 15*time.Second)

	if *adminAddr != "" {
		admin := httpapi.New(dir, rooms, disp.Audit)
		go func() {
			if err := admin.Run(ctx, *adminAddr); err != nil {
				logger.Error("admin server stopped", "err", err)
			}
		}()
	}

	<-ctx.Done()
	close(stopCoalescers)
	if err := st.SaveUsers(dir); err != nil {
		logger.Error("final save users", "err", err)
	}
	if err := st.SaveRooms(rooms); err != nil {
		logger.Error("final save rooms", "err", err)
	}
	logger.Info("shutdown complete")
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// snapshotAdapter implements core.Snapshotter over a pair of
// store.Coalescer instances, one per persisted file. internal/store
// imports internal/core, so the Dispatcher cannot hold a *store.Store
// directly without a cycle; this adapter lives in package main instead.
type snapshotAdapter struct {
	users *store.Coalescer
	rooms *store.Coalescer
}

func newSnapshotAdapter(st *store.Store, dir *core.Directory, rooms *core.RoomRegistry, stop <-chan struct{}, log *slog.Logger) *snapshotAdapter {
	return &snapshotAdapter{
		users: store.NewCoalescer(func() error { return st.SaveUsers(dir) }, func(err error) {
			log.Error("save users", "err", err)
		}, stop),
		rooms: store.NewCoalescer(func() error { return st.SaveRooms(rooms) }, func(err error) {
			log.Error("save rooms", "err", err)
		}, stop),
	}
}

func (s *snapshotAdapter) MarkUsersDirty() { s.users.MarkDirty() }
func (s *snapshotAdapter) MarkRoomsDirty() { s.rooms.MarkDirty() }
