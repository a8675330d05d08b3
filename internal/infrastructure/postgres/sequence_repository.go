package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jhoicas/ecf-core/internal/domain"
	"github.com/jhoicas/ecf-core/internal/domain/entity"
	"github.com/jhoicas/ecf-core/internal/domain/repository"
	"github.com/jhoicas/ecf-core/pkg/ecf"
)

var _ repository.SequenceRepository = (*SequenceRepo)(nil)

// SequenceRepo implementa SequenceRepository sobre PostgreSQL (usable con pool o tx).
type SequenceRepo struct {
	q Querier
}

// NewSequenceRepository construye el adaptador. Pasar pool o tx (Querier).
func NewSequenceRepository(q Querier) *SequenceRepo {
	return &SequenceRepo{q: q}
}

const sequenceColumns = `id, issuer_id, document_type, prefix, range_start, range_end, next_number,
	expires_on, state, validated_start, validated_end, created_at, updated_at`

func (r *SequenceRepo) Create(ctx context.Context, seq *entity.NcfSequence) error {
	if seq.ID == "" {
		seq.ID = uuid.New().String()
	}
	const q = `
		INSERT INTO ncf_sequences
			(id, issuer_id, document_type, prefix, range_start, range_end, next_number,
			 expires_on, state, validated_start, validated_end, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now(), now())`
	_, err := r.q.Exec(ctx, q,
		seq.ID, seq.IssuerID, string(seq.DocumentType), seq.Prefix,
		int64(seq.RangeStart), int64(seq.RangeEnd), int64(seq.Cursor),
		seq.ExpiresOn, string(seq.State), seq.Validation.Start, seq.Validation.End,
	)
	if err != nil {
		switch {
		case isExclusionViolation(err):
			return fmt.Errorf("%w: %s %d-%d", domain.ErrSequenceOverlap, seq.Prefix, seq.RangeStart, seq.RangeEnd)
		case isUniqueViolation(err):
			return fmt.Errorf("%w: secuencia %s ya existe", domain.ErrConflict, seq.ID)
		}
		return fmt.Errorf("insert ncf_sequence: %w", err)
	}
	return nil
}

// Update persiste estado y validación. GREATEST impide que el cursor retroceda.
func (r *SequenceRepo) Update(ctx context.Context, seq *entity.NcfSequence) error {
	const q = `
		UPDATE ncf_sequences
		SET next_number = GREATEST(next_number, $2), state = $3,
		    validated_start = $4, validated_end = $5, expires_on = $6, updated_at = now()
		WHERE id = $1`
	tag, err := r.q.Exec(ctx, q,
		seq.ID, int64(seq.Cursor), string(seq.State),
		seq.Validation.Start, seq.Validation.End, seq.ExpiresOn,
	)
	if err != nil {
		if isExclusionViolation(err) {
			return fmt.Errorf("%w: %s %d-%d", domain.ErrSequenceOverlap, seq.Prefix, seq.RangeStart, seq.RangeEnd)
		}
		return fmt.Errorf("update ncf_sequence: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSequenceNotFound
	}
	return nil
}

func (r *SequenceRepo) ListByIssuer(ctx context.Context, issuerID string) ([]*entity.NcfSequence, error) {
	q := `SELECT ` + sequenceColumns + ` FROM ncf_sequences
		WHERE issuer_id = $1 ORDER BY document_type, range_start`
	return r.list(ctx, q, issuerID)
}

func (r *SequenceRepo) ListActive(ctx context.Context, issuerID string, docType ecf.DocumentType) ([]*entity.NcfSequence, error) {
	q := `SELECT ` + sequenceColumns + ` FROM ncf_sequences
		WHERE issuer_id = $1 AND document_type = $2 AND state = 'active'
		ORDER BY range_start`
	return r.list(ctx, q, issuerID, string(docType))
}

// Allocate toma la fila activa disponible con FOR UPDATE y avanza next_number en la misma
// sentencia. Las filas vencidas o agotadas se excluyen en el WHERE (que Postgres vuelve a
// evaluar tras esperar el candado) y se cierran en closeDeadSequences.
func (r *SequenceRepo) Allocate(ctx context.Context, issuerID string, docType ecf.DocumentType, now time.Time) (entity.Allocation, error) {
	const q = `
		WITH next AS (
			SELECT id FROM ncf_sequences
			WHERE issuer_id = $1 AND document_type = $2 AND state = 'active'
			  AND next_number <= range_end AND expires_on >= $3::date
			ORDER BY range_start
			LIMIT 1
			FOR UPDATE
		)
		UPDATE ncf_sequences s
		SET next_number = s.next_number + 1, updated_at = $4
		FROM next
		WHERE s.id = next.id
		RETURNING s.id, s.prefix, s.next_number - 1, s.expires_on`

	today := now.Format("2006-01-02")
	if err := r.closeDeadSequences(ctx, issuerID, docType, today); err != nil {
		return entity.Allocation{}, err
	}

	var (
		a      = entity.Allocation{DocumentType: docType}
		number int64
	)
	err := r.q.QueryRow(ctx, q, issuerID, string(docType), today, now).Scan(&a.SequenceID, &a.Prefix, &number, &a.ExpiresOn)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if err := r.closeDeadSequences(ctx, issuerID, docType, today); err != nil {
				return entity.Allocation{}, err
			}
			return entity.Allocation{}, r.exhaustionCause(ctx, issuerID, docType)
		}
		return entity.Allocation{}, fmt.Errorf("allocate ncf: %w", err)
	}
	a.Number = uint64(number)
	return a, nil
}

func (r *SequenceRepo) closeDeadSequences(ctx context.Context, issuerID string, docType ecf.DocumentType, today string) error {
	const q = `
		UPDATE ncf_sequences
		SET state = CASE WHEN expires_on < $3::date THEN 'expired' ELSE 'exhausted' END,
		    updated_at = now()
		WHERE issuer_id = $1 AND document_type = $2 AND state = 'active'
		  AND (expires_on < $3::date OR next_number > range_end)`
	if _, err := r.q.Exec(ctx, q, issuerID, string(docType), today); err != nil {
		return fmt.Errorf("cerrar secuencias vencidas: %w", err)
	}
	return nil
}

func (r *SequenceRepo) exhaustionCause(ctx context.Context, issuerID string, docType ecf.DocumentType) error {
	const q = `
		SELECT state FROM ncf_sequences
		WHERE issuer_id = $1 AND document_type = $2 AND state IN ('exhausted', 'expired')
		ORDER BY range_end DESC
		LIMIT 1`
	var state string
	err := r.q.QueryRow(ctx, q, issuerID, string(docType)).Scan(&state)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return domain.ErrSequenceNotFound
	case err != nil:
		return fmt.Errorf("consultar secuencias cerradas: %w", err)
	case entity.SequenceState(state) == entity.SequenceExpired:
		return domain.ErrSequenceExpired
	default:
		return domain.ErrSequenceExhausted
	}
}

func (r *SequenceRepo) DeactivateAll(ctx context.Context, issuerID string) error {
	const q = `
		UPDATE ncf_sequences SET state = 'inactive', updated_at = now()
		WHERE issuer_id = $1 AND state IN ('active', 'pending')`
	if _, err := r.q.Exec(ctx, q, issuerID); err != nil {
		return fmt.Errorf("deactivate ncf_sequences: %w", err)
	}
	return nil
}

func (r *SequenceRepo) list(ctx context.Context, q string, args ...any) ([]*entity.NcfSequence, error) {
	rows, err := r.q.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list ncf_sequences: %w", err)
	}
	defer rows.Close()
	var list []*entity.NcfSequence
	for rows.Next() {
		s, err := scanSequence(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ncf_sequence: %w", err)
		}
		list = append(list, s)
	}
	return list, rows.Err()
}

func scanSequence(row pgxScanner) (*entity.NcfSequence, error) {
	var (
		s                  entity.NcfSequence
		docType, state     string
		start, end, cursor int64
	)
	err := row.Scan(
		&s.ID, &s.IssuerID, &docType, &s.Prefix, &start, &end, &cursor,
		&s.ExpiresOn, &state, &s.Validation.Start, &s.Validation.End,
		&s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	s.DocumentType = ecf.DocumentType(docType)
	s.State = entity.SequenceState(state)
	s.RangeStart, s.RangeEnd, s.Cursor = uint64(start), uint64(end), uint64(cursor)
	return &s, nil
}
