package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jhoicas/ecf-core/internal/domain/repository"
)

var _ repository.SequenceTxRunner = (*TxRunner)(nil)

// TxRunner da a los casos de uso repositorios atados a una transacción.
type TxRunner struct {
	pool *pgxpool.Pool
}

func NewTxRunner(pool *pgxpool.Pool) *TxRunner {
	return &TxRunner{pool: pool}
}

// RunSequences ejecuta fn en una transacción; commit si fn devuelve nil, rollback si no.
// El constraint de exclusión sobre rangos activos se evalúa al insertar dentro de la misma tx.
func (r *TxRunner) RunSequences(ctx context.Context, fn func(repo repository.SequenceRepository) error) error {
	err := pgx.BeginTxFunc(ctx, r.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		return fn(NewSequenceRepository(tx))
	})
	if err != nil {
		return fmt.Errorf("transacción de secuencias: %w", err)
	}
	return nil
}
