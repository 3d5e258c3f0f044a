package tx

import (
	"context"
	"database/sql"
	"sync"
	"time"

	dErrors "consentledger/pkg/domain-errors"
)

// DefaultTimeout bounds a transaction when the caller's context has no deadline.
const DefaultTimeout = 5 * time.Second

// Runner provides a transactional boundary. Stores called with the ctx passed
// to fn join the transaction.
type Runner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// SQLRunner runs fn inside a database transaction.
type SQLRunner struct {
	db      *sql.DB
	timeout time.Duration
}

func NewSQLRunner(db *sql.DB, timeout time.Duration) *SQLRunner {
	return &SQLRunner{db: db, timeout: timeout}
}

func (r *SQLRunner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel, err := prepare(ctx, r.timeout)
	if err != nil {
		return err
	}
	defer cancel()
	return Run(ctx, r.db, nil, func(ctx context.Context, _ *sql.Tx) error {
		return fn(ctx)
	})
}

// numShards spreads in-memory transactions across locks by shard key.
const numShards = 128

// ShardedRunner serializes in-memory transactions that share a shard key (see
// WithShardKey). Transactions without a key share shard 0. When fn fails, the
// undo steps stores registered through OnRollback run newest first.
type ShardedRunner struct {
	shards  [numShards]sync.Mutex
	timeout time.Duration
}

func NewShardedRunner(timeout time.Duration) *ShardedRunner {
	return &ShardedRunner{timeout: timeout}
}

func (r *ShardedRunner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel, err := prepare(ctx, r.timeout)
	if err != nil {
		return err
	}
	defer cancel()

	shard := &r.shards[shardFor(ctx)]
	shard.Lock()
	defer shard.Unlock()

	// Check again after acquiring lock
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTransient, "transaction aborted: context cancelled")
	}
	journal := &undoLog{}
	if err := fn(context.WithValue(ctx, undoKey{}, journal)); err != nil {
		journal.rollback()
		return err
	}
	return nil
}

type undoKey struct{}

type undoLog struct {
	mu    sync.Mutex
	steps []func()
}

func (l *undoLog) rollback() {
	l.mu.Lock()
	steps := l.steps
	l.steps = nil
	l.mu.Unlock()
	for i := len(steps) - 1; i >= 0; i-- {
		steps[i]()
	}
}

// OnRollback registers undo to run if the in-memory transaction carried by ctx
// fails. It is a no-op outside a ShardedRunner transaction; SQL transactions
// roll back on their own.
func OnRollback(ctx context.Context, undo func()) {
	journal, ok := ctx.Value(undoKey{}).(*undoLog)
	if !ok {
		return
	}
	journal.mu.Lock()
	journal.steps = append(journal.steps, undo)
	journal.mu.Unlock()
}

type shardKey struct{}

// WithShardKey names the resource a transaction works on, e.g. a subject.
func WithShardKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, shardKey{}, key)
}

func shardFor(ctx context.Context) int {
	key, ok := ctx.Value(shardKey{}).(string)
	if !ok || key == "" {
		return 0
	}
	// FNV-1a
	h := uint32(2166136261)
	for i := 0; i < len(key); i++ {
		h ^= uint32(key[i])
		h *= 16777619
	}
	return int(h % numShards)
}

func prepare(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc, error) {
	if err := ctx.Err(); err != nil {
		return ctx, func() {}, dErrors.Wrap(err, dErrors.CodeTransient, "transaction aborted: context cancelled")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}, nil
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	return ctx, cancel, nil
}
