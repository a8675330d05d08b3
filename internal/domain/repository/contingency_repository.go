package repository

import (
	"context"
	"time"

	"github.com/jhoicas/ecf-core/internal/domain/entity"
)

// ContingencyRepository define el puerto de persistencia de la cola de contingencia y su
// bitácora de eventos (solo se agregan; se resuelven en sitio).
type ContingencyRepository interface {
	AppendEvent(ctx context.Context, ev *entity.ContingencyEvent) error
	// ResolveOpenEvents marca resueltos los eventos abiertos del emisor y devuelve cuántos.
	ResolveOpenEvents(ctx context.Context, issuerID string, at time.Time) (int, error)
	ListEvents(ctx context.Context, issuerID string) ([]*entity.ContingencyEvent, error)

	// NextContingencyNumber contador local por emisor, independiente de los rangos NCF.
	NextContingencyNumber(ctx context.Context, issuerID string) (uint64, error)

	Enqueue(ctx context.Context, sub *entity.PendingSubmission) error
	GetSubmission(ctx context.Context, id string) (*entity.PendingSubmission, error)
	// ListPending envíos en estado pending ordenados por enqueued_at.
	ListPending(ctx context.Context, issuerID string) ([]*entity.PendingSubmission, error)
	ListStuck(ctx context.Context, issuerID string) ([]*entity.PendingSubmission, error)
	// RecordAttempt persiste attempts, last_attempt_at, last_error y state.
	RecordAttempt(ctx context.Context, sub *entity.PendingSubmission) error
	// Remove elimina un envío confirmado por la autoridad.
	Remove(ctx context.Context, id string) error
}
