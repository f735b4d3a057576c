package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// NotifyChannel is a Postgres LISTEN/NOTIFY channel name.
const (
	ChannelConsolidations = "consolidator_consolidations"
	ChannelConflicts      = "consolidator_conflicts"
)

// Listen starts listening on the specified channel using the dedicated notify connection.
// Returns an error if no notify connection is configured.
func (db *DB) Listen(ctx context.Context, channel string) error {
	db.notifyMu.Lock()
	conn := db.notifyConn
	db.notifyMu.Unlock()
	if conn == nil {
		return fmt.Errorf("storage: notify connection not configured")
	}
	_, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize())
	if err != nil {
		return fmt.Errorf("storage: listen %s: %w", channel, err)
	}
	db.notifyMu.Lock()
	db.listenChannels = append(db.listenChannels, channel)
	db.notifyMu.Unlock()
	return nil
}

// ListenWithRetry subscribes to channel, retrying with exponential backoff
// (up to 5 attempts) if the dedicated notify connection is down or the
// LISTEN itself fails. Mirrors the connection-recovery behavior callers
// otherwise got from the teacher's SSE broadcast loop.
func (db *DB) ListenWithRetry(ctx context.Context, channel string) error {
	const maxAttempts = 5
	var lastErr error
	for attempt := range maxAttempts {
		err := db.Listen(ctx, channel)
		if err == nil {
			return nil
		}
		lastErr = err

		backoff := time.Duration(1<<attempt) * time.Second
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}

		db.notifyMu.Lock()
		_ = db.reconnectNotify(ctx)
		db.notifyMu.Unlock()
	}
	return fmt.Errorf("storage: listen %s failed after %d attempts: %w", channel, maxAttempts, lastErr)
}

// WaitForNotification blocks until a notification arrives on any listened channel.
// Returns the channel name and payload.
func (db *DB) WaitForNotification(ctx context.Context) (channel, payload string, err error) {
	if db.notifyConn == nil {
		return "", "", fmt.Errorf("storage: notify connection not configured")
	}
	notification, err := db.notifyConn.WaitForNotification(ctx)
	if err != nil {
		return "", "", fmt.Errorf("storage: wait for notification: %w", err)
	}
	return notification.Channel, notification.Payload, nil
}

// Notify sends a notification on the specified channel.
func (db *DB) Notify(ctx context.Context, channel, payload string) error {
	_, err := db.pool.Exec(ctx, "SELECT pg_notify($1, $2)", channel, payload)
	if err != nil {
		return fmt.Errorf("storage: notify %s: %w", channel, err)
	}
	return nil
}
