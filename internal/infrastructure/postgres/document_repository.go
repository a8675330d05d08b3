package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jhoicas/ecf-core/internal/domain"
	"github.com/jhoicas/ecf-core/internal/domain/entity"
	"github.com/jhoicas/ecf-core/internal/domain/repository"
	"github.com/jhoicas/ecf-core/pkg/ecf"
)

var _ repository.DocumentRepository = (*DocumentRepo)(nil)

// DocumentRepo registro de comprobantes emitidos. total es NUMERIC y se lee directamente a
// decimal.Decimal gracias al codec registrado en NewPool.
type DocumentRepo struct {
	q Querier
}

// NewDocumentRepository construye el adaptador. Pasar pool o tx (Querier).
func NewDocumentRepository(q Querier) *DocumentRepo {
	return &DocumentRepo{q: q}
}

func (r *DocumentRepo) Save(ctx context.Context, doc *entity.IssuedDocument) error {
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	const q = `
		INSERT INTO issued_documents
			(id, issuer_id, encf, document_type, track_id, status, message, security_code, total,
			 signed_xml, issued_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now())`
	_, err := r.q.Exec(ctx, q,
		doc.ID, doc.IssuerID, doc.ENCF, string(doc.DocumentType), doc.TrackID, string(doc.Status),
		doc.Message, doc.SecurityCode, doc.Total, doc.SignedXML, doc.IssuedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: e-NCF %s ya registrado", domain.ErrConflict, doc.ENCF)
		}
		return fmt.Errorf("insert issued_document: %w", err)
	}
	return nil
}

func (r *DocumentRepo) GetByENCF(ctx context.Context, issuerID, encf string) (*entity.IssuedDocument, error) {
	const q = `
		SELECT id, issuer_id, encf, document_type, track_id, status, message, security_code, total,
		       signed_xml, issued_at, updated_at
		FROM issued_documents WHERE issuer_id = $1 AND encf = $2`
	var (
		d               entity.IssuedDocument
		docType, status string
	)
	err := r.q.QueryRow(ctx, q, issuerID, encf).Scan(
		&d.ID, &d.IssuerID, &d.ENCF, &docType, &d.TrackID, &status, &d.Message, &d.SecurityCode,
		&d.Total, &d.SignedXML, &d.IssuedAt, &d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get issued_document: %w", err)
	}
	d.DocumentType = ecf.DocumentType(docType)
	d.Status = ecf.SubmissionStatus(status)
	return &d, nil
}

func (r *DocumentRepo) UpdateStatus(ctx context.Context, issuerID, encf, trackID string, status ecf.SubmissionStatus, message string) error {
	const q = `
		UPDATE issued_documents
		SET track_id = COALESCE(NULLIF($3, ''), track_id), status = $4, message = $5, updated_at = now()
		WHERE issuer_id = $1 AND encf = $2`
	tag, err := r.q.Exec(ctx, q, issuerID, encf, trackID, string(status), message)
	if err != nil {
		return fmt.Errorf("update issued_document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
