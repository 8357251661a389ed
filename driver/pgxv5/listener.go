package pgxv5

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/youssefsiam38/ragpg/driver"
)

// ErrListenerClosed is returned when an operation is attempted on a closed listener.
var ErrListenerClosed = errors.New("listener is closed")

// Listener implements driver.Listener using a dedicated pgx connection.
// The connection is acquired by Driver.GetListener and held until Close.
type Listener struct {
	mu     sync.Mutex
	conn   *pgxpool.Conn
	closed bool
}

// Listen starts listening on the specified channel.
func (l *Listener) Listen(ctx context.Context, channel string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrListenerClosed
	}

	_, err := l.conn.Exec(ctx, fmt.Sprintf(`LISTEN %q`, channel))
	return err
}

// Unlisten stops listening on the specified channel.
func (l *Listener) Unlisten(ctx context.Context, channel string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrListenerClosed
	}

	_, err := l.conn.Exec(ctx, fmt.Sprintf(`UNLISTEN %q`, channel))
	return err
}

// UnlistenAll stops listening on all channels.
func (l *Listener) UnlistenAll(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrListenerClosed
	}

	_, err := l.conn.Exec(ctx, "UNLISTEN *")
	return err
}

// WaitForNotification blocks until a notification arrives on any subscribed
// channel, the context is cancelled, or the connection fails.
func (l *Listener) WaitForNotification(ctx context.Context) (*driver.Notification, error) {
	l.mu.Lock()
	conn := l.conn
	closed := l.closed
	l.mu.Unlock()

	if closed || conn == nil {
		return nil, ErrListenerClosed
	}

	notification, err := conn.Conn().WaitForNotification(ctx)
	if err != nil {
		return nil, err
	}

	return &driver.Notification{
		Channel: notification.Channel,
		Payload: notification.Payload,
	}, nil
}

// Ping checks if the listener connection is healthy.
func (l *Listener) Ping(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrListenerClosed
	}

	return l.conn.Ping(ctx)
}

// Close releases the dedicated connection back to the pool.
// After closing, the listener cannot be used.
func (l *Listener) Close(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true

	if l.conn != nil {
		l.conn.Release()
		l.conn = nil
	}

	return nil
}

// IsClosed returns true if the listener has been closed.
func (l *Listener) IsClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// Notifier implements driver.Notifier using the connection pool.
type Notifier struct {
	pool *pgxpool.Pool
}

// Notify sends a notification on the specified channel.
func (n *Notifier) Notify(ctx context.Context, channel, payload string) error {
	_, err := n.pool.Exec(ctx, "SELECT pg_notify($1, $2)", channel, payload)
	return err
}

// Compile-time checks
var (
	_ driver.Listener = (*Listener)(nil)
	_ driver.Notifier = (*Notifier)(nil)
)
