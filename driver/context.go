package driver

import "context"

// executorTxContextKey is the context key for storing ExecutorTx.
type executorTxContextKey struct{}

// WithExecutor returns a new context with the given executor transaction.
// This allows store operations to participate in an existing transaction.
//
// Example:
//
//	tx, _ := driver.Begin(ctx)
//	txCtx := driver.WithExecutor(ctx, tx)
//	// All store operations using txCtx will use the transaction
func WithExecutor(ctx context.Context, exec ExecutorTx) context.Context {
	return context.WithValue(ctx, executorTxContextKey{}, exec)
}

// ExecutorFromContext retrieves the executor from context, or nil if not present.
// Store implementations use this to determine if they should use a transaction.
func ExecutorFromContext(ctx context.Context) ExecutorTx {
	if exec, ok := ctx.Value(executorTxContextKey{}).(ExecutorTx); ok {
		return exec
	}
	return nil
}

// StripExecutor creates a new context without the executor value.
// Background services use this so their writes never ride along in a
// caller's transaction.
func StripExecutor(ctx context.Context) context.Context {
	return &executorStrippedContext{ctx}
}

// executorStrippedContext wraps a context to hide the executor value
// while preserving deadline, cancellation, and other values.
type executorStrippedContext struct {
	context.Context
}

// Value returns nil for the executor key, delegating other keys to the parent.
func (c *executorStrippedContext) Value(key any) any {
	if _, ok := key.(executorTxContextKey); ok {
		return nil
	}
	return c.Context.Value(key)
}
