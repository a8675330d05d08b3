package postgres_test

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/ecf-core/internal/domain"
	"github.com/jhoicas/ecf-core/internal/domain/entity"
	"github.com/jhoicas/ecf-core/internal/infrastructure/postgres"
	"github.com/jhoicas/ecf-core/pkg/config"
	"github.com/jhoicas/ecf-core/pkg/ecf"
)

// Requiere una base PostgreSQL descartable: ECF_TEST_DATABASE_URL=postgres://...
func newRepos(t *testing.T) (*postgres.SequenceRepo, *postgres.ContingencyRepo, string) {
	t.Helper()
	dsn := os.Getenv("ECF_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("ECF_TEST_DATABASE_URL no definido")
	}
	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, config.DBConfig{DatabaseURL: dsn, MaxConns: 10})
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	_, err = postgres.Migrate(ctx, pool)
	require.NoError(t, err)
	return postgres.NewSequenceRepository(pool), postgres.NewContingencyRepository(pool), "it-" + uuid.NewString()
}

func TestSequenceRepo_AllocateAtomicoEnPostgres(t *testing.T) {
	seqs, _, issuer := newRepos(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, seqs.Create(ctx, &entity.NcfSequence{
		IssuerID: issuer, DocumentType: ecf.TypeCreditoFiscal, Prefix: "E31",
		RangeStart: 1, RangeEnd: 50, Cursor: 1, ExpiresOn: now.AddDate(1, 0, 0),
		State: entity.SequenceActive, Validation: entity.AuthorityValidation{Start: true, End: true},
	}))

	var (
		mu   sync.Mutex
		seen = map[uint64]bool{}
		wg   sync.WaitGroup
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a, err := seqs.Allocate(ctx, issuer, ecf.TypeCreditoFiscal, now)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			assert.False(t, seen[a.Number])
			seen[a.Number] = true
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 50)

	_, err := seqs.Allocate(ctx, issuer, ecf.TypeCreditoFiscal, now)
	assert.ErrorIs(t, err, domain.ErrSequenceExhausted)
}

func TestSequenceRepo_ExclusionDeRangosActivos(t *testing.T) {
	seqs, _, issuer := newRepos(t)
	ctx := context.Background()
	mk := func(start, end uint64) *entity.NcfSequence {
		return &entity.NcfSequence{
			IssuerID: issuer, DocumentType: ecf.TypeConsumo, Prefix: "E32",
			RangeStart: start, RangeEnd: end, Cursor: start, ExpiresOn: time.Now().AddDate(1, 0, 0),
			State: entity.SequenceActive, Validation: entity.AuthorityValidation{Start: true, End: true},
		}
	}
	require.NoError(t, seqs.Create(ctx, mk(1, 10)))
	assert.ErrorIs(t, seqs.Create(ctx, mk(5, 20)), domain.ErrSequenceOverlap)
}

func TestContingencyRepo_ContadorEnPostgres(t *testing.T) {
	_, cont, issuer := newRepos(t)
	ctx := context.Background()
	n1, err := cont.NextContingencyNumber(ctx, issuer)
	require.NoError(t, err)
	n2, err := cont.NextContingencyNumber(ctx, issuer)
	require.NoError(t, err)
	assert.Equal(t, n1+1, n2)
}
