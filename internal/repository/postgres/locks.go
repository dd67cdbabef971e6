package postgres

import (
	"context"
	"fmt"
	"hash/fnv"

	"github.com/jmoiron/sqlx"
)

// AdvisoryLock enforces single-leader execution through a session-level
// Postgres advisory lock. The lock lives on a dedicated connection so it is
// held for the whole critical section regardless of pool reuse.
type AdvisoryLock struct {
	db  *sqlx.DB
	key int64
}

// NewAdvisoryLock derives a 64-bit lock key from the configured name.
func NewAdvisoryLock(db *sqlx.DB, name string) *AdvisoryLock {
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	return &AdvisoryLock{db: db, key: int64(h.Sum64())}
}

// TryAcquire attempts to take the lock without blocking. When acquired the
// returned release func unlocks and returns the connection to the pool.
func (l *AdvisoryLock) TryAcquire(ctx context.Context) (func(), bool, error) {
	conn, err := l.db.Connx(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("advisory lock: acquire conn: %w", err)
	}

	var acquired bool
	if err := conn.GetContext(ctx, &acquired, `SELECT pg_try_advisory_lock($1)`, l.key); err != nil {
		_ = conn.Close()
		return nil, false, fmt.Errorf("advisory lock: try lock: %w", err)
	}
	if !acquired {
		_ = conn.Close()
		return nil, false, nil
	}

	release := func() {
		// Best effort: closing the connection drops the session lock anyway.
		_, _ = conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, l.key)
		_ = conn.Close()
	}
	return release, true, nil
}
