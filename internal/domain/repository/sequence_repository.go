package repository

import (
	"context"
	"time"

	"github.com/jhoicas/ecf-core/internal/domain/entity"
	"github.com/jhoicas/ecf-core/pkg/ecf"
)

// SequenceRepository define el puerto de persistencia para secuencias NCF.
type SequenceRepository interface {
	Create(ctx context.Context, seq *entity.NcfSequence) error
	// Update persiste estado, validación y cursor. El cursor nunca se mueve hacia atrás.
	Update(ctx context.Context, seq *entity.NcfSequence) error
	ListByIssuer(ctx context.Context, issuerID string) ([]*entity.NcfSequence, error)
	ListActive(ctx context.Context, issuerID string, docType ecf.DocumentType) ([]*entity.NcfSequence, error)

	// Allocate entrega el cursor de la secuencia activa (menor range_start) del emisor y tipo y
	// lo avanza en una sola operación atómica. Las secuencias vencidas o agotadas se desactivan y
	// se continúa con la siguiente; si no queda ninguna devuelve ErrSequenceExpired o
	// ErrSequenceExhausted, y ErrSequenceNotFound si nunca hubo una activa.
	Allocate(ctx context.Context, issuerID string, docType ecf.DocumentType, now time.Time) (entity.Allocation, error)

	// DeactivateAll pasa a "inactive" todas las secuencias activas o pendientes del emisor.
	DeactivateAll(ctx context.Context, issuerID string) error
}

// SequenceTxRunner ejecuta fn con un SequenceRepository atado a una transacción.
// Si fn devuelve error nada se confirma.
type SequenceTxRunner interface {
	RunSequences(ctx context.Context, fn func(repo SequenceRepository) error) error
}
