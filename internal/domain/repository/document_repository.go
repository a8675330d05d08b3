package repository

import (
	"context"

	"github.com/jhoicas/ecf-core/internal/domain/entity"
	"github.com/jhoicas/ecf-core/pkg/ecf"
)

// DocumentRepository define el puerto de persistencia del registro de comprobantes emitidos.
type DocumentRepository interface {
	Save(ctx context.Context, doc *entity.IssuedDocument) error
	GetByENCF(ctx context.Context, issuerID, encf string) (*entity.IssuedDocument, error)
	// UpdateStatus actualiza track id, estado y mensaje (ligero, para polling y drenado).
	UpdateStatus(ctx context.Context, issuerID, encf, trackID string, status ecf.SubmissionStatus, message string) error
}
