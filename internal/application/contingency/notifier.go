package contingency

import (
	"context"

	"github.com/jhoicas/ecf-core/internal/domain/entity"
	"github.com/jhoicas/ecf-core/pkg/logger"
)

// Notifier recibe el desenlace de cada envío drenado.
type Notifier interface {
	// Resolved la autoridad aceptó el reenvío; trackID es el definitivo.
	Resolved(ctx context.Context, sub *entity.PendingSubmission, trackID string)
	// Stuck el envío agotó los reintentos o fue rechazado y requiere intervención.
	Stuck(ctx context.Context, sub *entity.PendingSubmission)
}

// LogNotifier avisa al operador por el log.
type LogNotifier struct {
	log *logger.Logger
}

// NewLogNotifier crea el notificador.
func NewLogNotifier(log *logger.Logger) *LogNotifier {
	if log == nil {
		log = logger.Nop()
	}
	return &LogNotifier{log: log.Component("contingency_notifier")}
}

func (n *LogNotifier) Resolved(ctx context.Context, sub *entity.PendingSubmission, trackID string) {
	n.log.Info().
		Str("issuer_id", sub.IssuerID).
		Str("encf", sub.DocumentID).
		Str("contingency_number", sub.ContingencyNumber).
		Str("track_id", trackID).
		Msg("envío en contingencia aceptado")
}

func (n *LogNotifier) Stuck(ctx context.Context, sub *entity.PendingSubmission) {
	n.log.Error().
		Str("issuer_id", sub.IssuerID).
		Str("encf", sub.DocumentID).
		Str("contingency_number", sub.ContingencyNumber).
		Int("attempts", sub.Attempts).
		Str("last_error", sub.LastError).
		Msg("envío atascado: requiere intervención del operador")
}

// Notifiers reparte cada aviso a varios notificadores.
type Notifiers []Notifier

func (ns Notifiers) Resolved(ctx context.Context, sub *entity.PendingSubmission, trackID string) {
	for _, n := range ns {
		n.Resolved(ctx, sub, trackID)
	}
}

func (ns Notifiers) Stuck(ctx context.Context, sub *entity.PendingSubmission) {
	for _, n := range ns {
		n.Stuck(ctx, sub)
	}
}
