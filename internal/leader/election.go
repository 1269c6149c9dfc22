// Package leader elects a single relay instance using a Postgres session
// advisory lock. The lock lives on one dedicated connection; losing that
// connection loses leadership.
package leader

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"go.uber.org/zap"
)

type Election struct {
	db       *sql.DB
	key      int64
	interval time.Duration
	logger   *zap.Logger

	mu       sync.RWMutex
	conn     *sql.Conn
	isLeader bool
}

func NewElection(db *sql.DB, key int64, interval time.Duration, logger *zap.Logger) *Election {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Election{db: db, key: key, interval: interval, logger: logger}
}

func (e *Election) IsLeader() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.isLeader
}

// Run campaigns until ctx is done, then releases the lock.
func (e *Election) Run(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	e.campaign(ctx)
	for {
		select {
		case <-ctx.Done():
			e.Close()
			return
		case <-ticker.C:
			e.campaign(ctx)
		}
	}
}

// campaign acquires the lock, or checks that the held connection is alive.
func (e *Election) campaign(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.isLeader {
		if err := e.conn.PingContext(ctx); err == nil {
			return
		}
		e.logger.Warn("Leader connection lost, stepping down")
		e.resetLocked()
	}

	if e.conn == nil {
		conn, err := e.db.Conn(ctx)
		if err != nil {
			e.logger.Error("Failed to acquire election connection", zap.Error(err))
			return
		}
		e.conn = conn
	}

	var acquired bool
	if err := e.conn.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1)`, e.key).Scan(&acquired); err != nil {
		e.logger.Error("Failed to try advisory lock", zap.Error(err))
		e.resetLocked()
		return
	}

	if acquired {
		e.logger.Info("Became relay leader", zap.Int64("lock_key", e.key))
	}
	e.isLeader = acquired
}

// Close releases leadership and the dedicated connection.
func (e *Election) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.isLeader && e.conn != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := e.conn.ExecContext(ctx, `SELECT pg_advisory_unlock($1)`, e.key); err != nil {
			e.logger.Warn("Failed to release advisory lock", zap.Error(err))
		}
	}
	e.resetLocked()
}

func (e *Election) resetLocked() {
	if e.conn != nil {
		e.conn.Close()
		e.conn = nil
	}
	e.isLeader = false
}
