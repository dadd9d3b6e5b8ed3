package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
)

// NumeratorQuerier adapts the transaction manager to the numerator's
// querier so sequence allocation joins the transaction bound to the
// context. Strict numbering inside the document-create transaction rolls
// the allocated number back together with the document.
type NumeratorQuerier struct {
	txManager *TxManager
}

// NewNumeratorQuerier creates the adapter.
func NewNumeratorQuerier(txManager *TxManager) *NumeratorQuerier {
	return &NumeratorQuerier{txManager: txManager}
}

// QueryRow executes on the context transaction, or the pool when none.
func (q *NumeratorQuerier) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return q.txManager.GetQuerier(ctx).QueryRow(ctx, sql, args...)
}
