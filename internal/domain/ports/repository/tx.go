package repository

import (
	"context"

	"github.com/jackc/pgx/v4"
)

type Tx interface{}

// TransactionManager executes fn within a database transaction, passing the
// underlying handle as tx. The concrete type of tx is infra-defined (pgx.Tx for
// Postgres). Repositories must accept a nil tx (non-transactional path).
type TransactionManager interface {
	WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx Tx) error) error
}
