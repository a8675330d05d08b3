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
)

var _ repository.ContingencyRepository = (*ContingencyRepo)(nil)

// ContingencyRepo implementa ContingencyRepository sobre PostgreSQL.
type ContingencyRepo struct {
	q Querier
}

// NewContingencyRepository construye el adaptador. Pasar pool o tx (Querier).
func NewContingencyRepository(q Querier) *ContingencyRepo {
	return &ContingencyRepo{q: q}
}

func (r *ContingencyRepo) AppendEvent(ctx context.Context, ev *entity.ContingencyEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	const q = `
		INSERT INTO contingency_events (id, issuer_id, occurred_at, kind, description, resolved, resolved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.q.Exec(ctx, q, ev.ID, ev.IssuerID, ev.Timestamp, string(ev.Kind), ev.Description, ev.Resolved, ev.ResolvedAt)
	if err != nil {
		return fmt.Errorf("insert contingency_event: %w", err)
	}
	return nil
}

func (r *ContingencyRepo) ResolveOpenEvents(ctx context.Context, issuerID string, at time.Time) (int, error) {
	const q = `
		UPDATE contingency_events SET resolved = true, resolved_at = $2
		WHERE issuer_id = $1 AND resolved = false`
	tag, err := r.q.Exec(ctx, q, issuerID, at)
	if err != nil {
		return 0, fmt.Errorf("resolve contingency_events: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *ContingencyRepo) ListEvents(ctx context.Context, issuerID string) ([]*entity.ContingencyEvent, error) {
	const q = `
		SELECT id, issuer_id, occurred_at, kind, description, resolved, resolved_at
		FROM contingency_events WHERE issuer_id = $1 ORDER BY occurred_at`
	rows, err := r.q.Query(ctx, q, issuerID)
	if err != nil {
		return nil, fmt.Errorf("list contingency_events: %w", err)
	}
	defer rows.Close()
	var list []*entity.ContingencyEvent
	for rows.Next() {
		var (
			ev   entity.ContingencyEvent
			kind string
		)
		if err := rows.Scan(&ev.ID, &ev.IssuerID, &ev.Timestamp, &kind, &ev.Description, &ev.Resolved, &ev.ResolvedAt); err != nil {
			return nil, fmt.Errorf("scan contingency_event: %w", err)
		}
		ev.Kind = entity.EventKind(kind)
		list = append(list, &ev)
	}
	return list, rows.Err()
}

// NextContingencyNumber upsert atómico del contador del emisor.
func (r *ContingencyRepo) NextContingencyNumber(ctx context.Context, issuerID string) (uint64, error) {
	const q = `
		INSERT INTO contingency_counters (issuer_id, last_value) VALUES ($1, 1)
		ON CONFLICT (issuer_id) DO UPDATE SET last_value = contingency_counters.last_value + 1
		RETURNING last_value`
	var n int64
	if err := r.q.QueryRow(ctx, q, issuerID).Scan(&n); err != nil {
		return 0, fmt.Errorf("next contingency number: %w", err)
	}
	return uint64(n), nil
}

func (r *ContingencyRepo) Enqueue(ctx context.Context, sub *entity.PendingSubmission) error {
	if sub.ID == "" {
		sub.ID = uuid.New().String()
	}
	const q = `
		INSERT INTO pending_submissions
			(id, contingency_number, issuer_id, issuer_tax_id, document_id, signed_xml,
			 enqueued_at, attempts, last_attempt_at, last_error, state)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err := r.q.Exec(ctx, q,
		sub.ID, sub.ContingencyNumber, sub.IssuerID, sub.IssuerTaxID, sub.DocumentID, sub.SignedXML,
		sub.EnqueuedAt, sub.Attempts, sub.LastAttemptAt, sub.LastError, string(sub.State),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: envío %s ya encolado", domain.ErrConflict, sub.ContingencyNumber)
		}
		return fmt.Errorf("insert pending_submission: %w", err)
	}
	return nil
}

const submissionColumns = `id, contingency_number, issuer_id, issuer_tax_id, document_id, signed_xml,
	enqueued_at, attempts, last_attempt_at, last_error, state`

func (r *ContingencyRepo) GetSubmission(ctx context.Context, id string) (*entity.PendingSubmission, error) {
	q := `SELECT ` + submissionColumns + ` FROM pending_submissions WHERE id = $1`
	sub, err := scanSubmission(r.q.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get pending_submission: %w", err)
	}
	return sub, nil
}

func (r *ContingencyRepo) ListPending(ctx context.Context, issuerID string) ([]*entity.PendingSubmission, error) {
	return r.listByState(ctx, issuerID, entity.SubmissionPending)
}

func (r *ContingencyRepo) ListStuck(ctx context.Context, issuerID string) ([]*entity.PendingSubmission, error) {
	return r.listByState(ctx, issuerID, entity.SubmissionStuck)
}

func (r *ContingencyRepo) RecordAttempt(ctx context.Context, sub *entity.PendingSubmission) error {
	const q = `
		UPDATE pending_submissions
		SET attempts = $2, last_attempt_at = $3, last_error = $4, state = $5
		WHERE id = $1`
	tag, err := r.q.Exec(ctx, q, sub.ID, sub.Attempts, sub.LastAttemptAt, sub.LastError, string(sub.State))
	if err != nil {
		return fmt.Errorf("update pending_submission: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *ContingencyRepo) Remove(ctx context.Context, id string) error {
	tag, err := r.q.Exec(ctx, `DELETE FROM pending_submissions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete pending_submission: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *ContingencyRepo) listByState(ctx context.Context, issuerID string, state entity.SubmissionState) ([]*entity.PendingSubmission, error) {
	q := `SELECT ` + submissionColumns + ` FROM pending_submissions
		WHERE issuer_id = $1 AND state = $2 ORDER BY enqueued_at`
	rows, err := r.q.Query(ctx, q, issuerID, string(state))
	if err != nil {
		return nil, fmt.Errorf("list pending_submissions: %w", err)
	}
	defer rows.Close()
	var list []*entity.PendingSubmission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pending_submission: %w", err)
		}
		list = append(list, sub)
	}
	return list, rows.Err()
}

func scanSubmission(row pgxScanner) (*entity.PendingSubmission, error) {
	var (
		s     entity.PendingSubmission
		state string
	)
	err := row.Scan(
		&s.ID, &s.ContingencyNumber, &s.IssuerID, &s.IssuerTaxID, &s.DocumentID, &s.SignedXML,
		&s.EnqueuedAt, &s.Attempts, &s.LastAttemptAt, &s.LastError, &state,
	)
	if err != nil {
		return nil, err
	}
	s.State = entity.SubmissionState(state)
	return &s, nil
}
