package output

import "context"

// TransactionManager coordinates multi-repository writes. Each call to
// InTransaction is one durable-store transaction; callers must not
// assume separate calls are coalesced.
type TransactionManager interface {
	// InTransaction executes fn inside a transaction. The transaction
	// commits when fn returns nil and rolls back otherwise.
	InTransaction(ctx context.Context, fn func(txCtx context.Context) error) error

	// BeginTransaction starts an explicitly managed transaction
	BeginTransaction(ctx context.Context) (Transaction, error)
}

// Transaction is an explicitly managed database transaction
type Transaction interface {
	Commit() error
	Rollback() error
	Context() context.Context
}
