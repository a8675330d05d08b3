package memory

import (
	"context"
	"sync"
	"time"

	"github.com/jhoicas/ecf-core/internal/domain"
	"github.com/jhoicas/ecf-core/internal/domain/entity"
	"github.com/jhoicas/ecf-core/internal/domain/repository"
	"github.com/jhoicas/ecf-core/pkg/ecf"
)

var _ repository.DocumentRepository = (*DocumentRepo)(nil)

// DocumentRepo registro de comprobantes emitidos en memoria, indexado por emisor + e-NCF.
type DocumentRepo struct {
	mu   sync.RWMutex
	docs map[string]*entity.IssuedDocument
}

// NewDocumentRepo crea el repositorio vacío.
func NewDocumentRepo() *DocumentRepo {
	return &DocumentRepo{docs: make(map[string]*entity.IssuedDocument)}
}

func docKey(issuerID, encf string) string { return issuerID + "|" + encf }

func (r *DocumentRepo) Save(ctx context.Context, doc *entity.IssuedDocument) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := docKey(doc.IssuerID, doc.ENCF)
	if _, ok := r.docs[k]; ok {
		return domain.ErrConflict
	}
	cp := *doc
	cp.UpdatedAt = time.Now()
	r.docs[k] = &cp
	return nil
}

func (r *DocumentRepo) GetByENCF(ctx context.Context, issuerID, encf string) (*entity.IssuedDocument, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.docs[docKey(issuerID, encf)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (r *DocumentRepo) UpdateStatus(ctx context.Context, issuerID, encf, trackID string, status ecf.SubmissionStatus, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.docs[docKey(issuerID, encf)]
	if !ok {
		return domain.ErrNotFound
	}
	if trackID != "" {
		d.TrackID = trackID
	}
	d.Status = status
	d.Message = message
	d.UpdatedAt = time.Now()
	return nil
}
