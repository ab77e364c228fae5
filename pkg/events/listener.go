package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
)

// Broadcaster fans a received NOTIFY payload out to local subscribers.
// Implemented by gateway.ConnectionManager.
type Broadcaster interface {
	Broadcast(channel string, payload []byte)
}

// busCommand is one LISTEN or UNLISTEN awaiting execution on the
// dedicated connection. reply receives the Exec outcome.
type busCommand struct {
	verb    string
	channel string
	reply   chan error
}

// NotifyListener receives PostgreSQL NOTIFY traffic on a dedicated
// connection and hands each payload to the Broadcaster. One listener
// runs per process; at startup it is subscribed to every bus channel.
//
// After Start the receive loop is the connection's only user. LISTEN
// and UNLISTEN reach it as queued commands rather than direct Execs,
// which is what keeps WaitForNotification and Exec off the same conn
// at the same time.
type NotifyListener struct {
	dsn         string
	broadcaster Broadcaster

	active   map[string]bool // channels currently LISTENed
	activeMu sync.RWMutex

	commands chan busCommand
	started  atomic.Bool
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewNotifyListener creates a listener for the given connection string.
func NewNotifyListener(dsn string, broadcaster Broadcaster) *NotifyListener {
	return &NotifyListener{
		dsn:         dsn,
		broadcaster: broadcaster,
		active:      make(map[string]bool),
		commands:    make(chan busCommand, 16),
	}
}

// Start dials the dedicated connection and hands it to the receive
// loop.
func (l *NotifyListener) Start(ctx context.Context) error {
	conn, err := pgx.Connect(ctx, l.dsn)
	if err != nil {
		return fmt.Errorf("listener connection failed: %w", err)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})
	l.started.Store(true)

	go func() {
		defer close(l.done)
		l.run(loopCtx, conn)
	}()

	slog.Info("Event listener running")
	return nil
}

// Subscribe issues LISTEN for a channel. Idempotent.
func (l *NotifyListener) Subscribe(ctx context.Context, channel string) error {
	if l.isListening(channel) {
		return nil
	}
	if err := l.exec(ctx, "LISTEN", channel); err != nil {
		return err
	}
	l.activeMu.Lock()
	l.active[channel] = true
	l.activeMu.Unlock()
	slog.Debug("Listening on channel", "channel", channel)
	return nil
}

// Unsubscribe issues UNLISTEN for a channel. A channel that was never
// subscribed is a no-op.
func (l *NotifyListener) Unsubscribe(ctx context.Context, channel string) error {
	if !l.isListening(channel) {
		return nil
	}
	if err := l.exec(ctx, "UNLISTEN", channel); err != nil {
		return err
	}
	l.activeMu.Lock()
	delete(l.active, channel)
	l.activeMu.Unlock()
	return nil
}

// exec routes one command through the receive loop and waits for its
// outcome.
func (l *NotifyListener) exec(ctx context.Context, verb, channel string) error {
	if !l.started.Load() {
		return errors.New("LISTEN connection not established")
	}

	cmd := busCommand{verb: verb, channel: channel, reply: make(chan error, 1)}
	select {
	case l.commands <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-cmd.reply:
		if err != nil {
			return fmt.Errorf("%s %s failed: %w", verb, channel, err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// isListening reports whether a LISTEN is active for the channel.
func (l *NotifyListener) isListening(channel string) bool {
	l.activeMu.RLock()
	defer l.activeMu.RUnlock()
	return l.active[channel]
}

// run owns the dedicated connection: it applies queued commands, waits
// for notifications in short slices, and replaces the connection after
// receive errors. No other goroutine touches conn.
func (l *NotifyListener) run(ctx context.Context, conn *pgx.Conn) {
	defer func() {
		if conn != nil {
			_ = conn.Close(context.Background())
		}
	}()

	for {
		if ctx.Err() != nil {
			return
		}

		if conn == nil {
			l.failPending()
			if conn = l.redial(ctx); conn == nil {
				return // cancelled during backoff
			}
		}

		l.applyCommands(ctx, conn)

		// Short wait slices keep the loop responsive to queued commands
		// and cancellation between notifications.
		waitCtx, cancelWait := context.WithTimeout(ctx, 100*time.Millisecond)
		note, err := conn.WaitForNotification(waitCtx)
		cancelWait()

		switch {
		case err == nil:
			l.broadcaster.Broadcast(note.Channel, []byte(note.Payload))
		case ctx.Err() != nil:
			return
		case waitCtx.Err() != nil:
			// Slice elapsed with nothing to read.
		default:
			slog.Error("Lost NOTIFY connection", "error", err)
			_ = conn.Close(context.Background())
			conn = nil
		}
	}
}

// applyCommands drains queued LISTEN/UNLISTEN work onto the connection.
func (l *NotifyListener) applyCommands(ctx context.Context, conn *pgx.Conn) {
	for {
		select {
		case cmd := <-l.commands:
			_, err := conn.Exec(ctx, cmd.verb+" "+pgx.Identifier{cmd.channel}.Sanitize())
			cmd.reply <- err
		default:
			return
		}
	}
}

// failPending answers queued commands with an error while the
// connection is down, so Subscribe callers fail fast instead of
// waiting out a reconnect.
func (l *NotifyListener) failPending() {
	for {
		select {
		case cmd := <-l.commands:
			cmd.reply <- errors.New("LISTEN connection not established")
		default:
			return
		}
	}
}

// redial reconnects with exponential backoff and restores every LISTEN
// held before the connection dropped. Returns nil only on cancellation.
func (l *NotifyListener) redial(ctx context.Context) *pgx.Conn {
	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}

		conn, err := pgx.Connect(ctx, l.dsn)
		if err != nil {
			slog.Error("Listener reconnect attempt failed", "error", err, "backoff", backoff)
			backoff = min(backoff*2, 30*time.Second)
			continue
		}

		l.activeMu.RLock()
		channels := make([]string, 0, len(l.active))
		for ch := range l.active {
			channels = append(channels, ch)
		}
		l.activeMu.RUnlock()

		for _, ch := range channels {
			if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{ch}.Sanitize()); err != nil {
				slog.Error("Could not restore channel subscription", "channel", ch, "error", err)
			}
		}

		slog.Info("Event listener reconnected")
		return conn
	}
}

// Stop cancels the receive loop and waits for it to release the
// connection, bounded by ctx.
func (l *NotifyListener) Stop(ctx context.Context) {
	l.started.Store(false)
	if l.cancel != nil {
		l.cancel()
	}
	if l.done != nil {
		select {
		case <-l.done:
		case <-ctx.Done():
		}
	}
}
