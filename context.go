package ragpg

import (
	"context"
	"errors"
)

// nativeTxContextKey is the context key for storing the native transaction type.
type nativeTxContextKey struct{}

// ErrNoTransaction is returned when TxFromContextSafely is called
// but no transaction exists in context.
var ErrNoTransaction = errors.New("ragpg: no transaction in context, only available within transactional operations")

// withNativeTx stores the native transaction in context.
// This is called internally by EnqueueTx to make the transaction available
// to hooks and custom tools.
func withNativeTx[TTx any](ctx context.Context, tx TTx) context.Context {
	return context.WithValue(ctx, nativeTxContextKey{}, tx)
}

// TxFromContext returns the native database transaction from the context.
// It is available inside transactional operations such as Client.EnqueueTx,
// where hooks observe the same transaction the job row rides in.
//
// It panics if the context does not contain a transaction. Use TxFromContextSafely
// if you need to handle the case where no transaction is present.
//
// The type parameter TTx must match the transaction type of your driver:
//   - pgx.Tx for pgxv5.Driver
//   - *sql.Tx for databasesql.Driver
func TxFromContext[TTx any](ctx context.Context) TTx {
	tx, err := TxFromContextSafely[TTx](ctx)
	if err != nil {
		panic(err)
	}
	return tx
}

// TxFromContextSafely returns the native database transaction from the context.
// Unlike TxFromContext, it returns an error instead of panicking if no transaction
// is present.
//
// This is useful for hooks that fire both inside and outside transactional
// operations:
//
//	registry.OnJobStateChange(func(ctx context.Context, job *storage.IngestionJob) error {
//	    tx, err := ragpg.TxFromContextSafely[pgx.Tx](ctx)
//	    if err != nil {
//	        // Not transactional - record through the pool
//	        return recordThroughPool(ctx, job)
//	    }
//	    _, err = tx.Exec(ctx, "INSERT INTO audit_log ...")
//	    return err
//	})
func TxFromContextSafely[TTx any](ctx context.Context) (TTx, error) {
	var zero TTx
	val := ctx.Value(nativeTxContextKey{})
	if val == nil {
		return zero, ErrNoTransaction
	}
	tx, ok := val.(TTx)
	if !ok {
		return zero, ErrNoTransaction
	}
	return tx, nil
}

// WithTestTx creates a context with a native transaction for testing code
// that uses TxFromContext.
//
// Example:
//
//	func TestMyHook(t *testing.T) {
//	    tx, _ := pool.Begin(ctx)
//	    defer tx.Rollback(ctx)
//
//	    ctx := ragpg.WithTestTx(context.Background(), tx)
//	    err := myHook(ctx, job)
//	    // assertions...
//	}
func WithTestTx[TTx any](ctx context.Context, tx TTx) context.Context {
	return withNativeTx(ctx, tx)
}
