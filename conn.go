package main

import (
	"bufio"
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/sony/gobreaker"

	"streamline/internal/core"
	"streamline/internal/metrics"
)

// handleConn owns one accepted TCP connection end to end: it registers a
// fresh Session, starts the dedicated writer goroutine, and runs the read
// loop until the socket or the session closes.
func handleConn(ctx context.Context, conn net.Conn, disp *core.Dispatcher, log *slog.Logger) {
	sess := core.NewSession(conn.RemoteAddr().String())
	log = log.With("session", sess.ID, "peer", sess.PeerAddr)
	log.Info("connection accepted")
	metrics.Connections.Inc()

	defer func() {
		disp.Disconnect(sess)
		conn.Close()
		metrics.Connections.Dec()
		log.Info("connection closed")
	}()

	breaker := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "conn-write-" + sess.ID,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     breakerOpenDuration,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerFailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("write circuit breaker state change", "from", from.String(), "to", to.String())
		},
	})

	go writeLoop(conn, sess, breaker, log)

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 4096), maxLineSize)
	for scanner.Scan() {
		if sess.Closed() {
			return
		}
		disp.Handle(sess, scanner.Text())
		if sess.Closed() {
			return
		}
	}
	if err := scanner.Err(); err != nil {
		log.Debug("read loop ended", "err", err)
	}
}

// writeLoop drains sess.Outbound() onto the socket until the session closes.
// Every write goes through a gobreaker CircuitBreaker under a write
// deadline, so a peer whose socket has wedged (slow reader, dead NAT
// mapping) makes the write fail instead of blocking forever. The first
// failed write closes the session and ends the loop; the breaker's
// breakerFailureThreshold of consecutive failures is not reached.
func writeLoop(conn net.Conn, sess *core.Session, breaker *gobreaker.CircuitBreaker[struct{}], log *slog.Logger) {
	for {
		select {
		case <-sess.CloseSignal():
			return
		case frame, ok := <-sess.Outbound():
			if !ok {
				return
			}
			_, err := breaker.Execute(func() (struct{}, error) {
				conn.SetWriteDeadline(time.Now().Add(writerFlushTimeout))
				_, werr := conn.Write(frame)
				return struct{}{}, werr
			})
			if err != nil {
				log.Warn("write failed, closing session", "err", err)
				sess.Close()
				return
			}
		}
	}
}
