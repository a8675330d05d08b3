package billing

import (
	"context"

	"github.com/jhoicas/ecf-core/internal/application/contingency"
	"github.com/jhoicas/ecf-core/internal/domain/entity"
	"github.com/jhoicas/ecf-core/internal/domain/repository"
	ecfxml "github.com/jhoicas/ecf-core/internal/infrastructure/ecf"
	"github.com/jhoicas/ecf-core/pkg/ecf"
	"github.com/jhoicas/ecf-core/pkg/logger"
)

var (
	_ contingency.Resubmitter = (*AuthorityResubmitter)(nil)
	_ contingency.Notifier    = (*DocumentStatusNotifier)(nil)
)

// AuthorityResubmitter reenvía los documentos de la cola de contingencia.
type AuthorityResubmitter struct {
	tokens    TokenSource
	authority AuthorityGateway
}

// NewAuthorityResubmitter crea el reenviador.
func NewAuthorityResubmitter(tokens TokenSource, authority AuthorityGateway) *AuthorityResubmitter {
	return &AuthorityResubmitter{tokens: tokens, authority: authority}
}

func (r *AuthorityResubmitter) Resubmit(ctx context.Context, sub *entity.PendingSubmission) (string, error) {
	ack, err := withToken(ctx, r.tokens, sub.IssuerID, func(tok *ecfxml.Token) (*ecfxml.SubmitResult, error) {
		return r.authority.Submit(ctx, sub.SignedXML, sub.Filename(), tok)
	})
	if err != nil {
		return "", err
	}
	return ack.TrackID, nil
}

// DocumentStatusNotifier refleja el desenlace del drenado en el registro de comprobantes.
type DocumentStatusNotifier struct {
	docs repository.DocumentRepository
	log  *logger.Logger
}

// NewDocumentStatusNotifier crea el notificador.
func NewDocumentStatusNotifier(docs repository.DocumentRepository, log *logger.Logger) *DocumentStatusNotifier {
	if log == nil {
		log = logger.Nop()
	}
	return &DocumentStatusNotifier{docs: docs, log: log.Component("document_status")}
}

func (n *DocumentStatusNotifier) Resolved(ctx context.Context, sub *entity.PendingSubmission, trackID string) {
	n.update(ctx, sub, trackID, ecf.StatusReceived, "")
}

// Stuck el documento sigue en contingencia; el mensaje guarda el último error.
func (n *DocumentStatusNotifier) Stuck(ctx context.Context, sub *entity.PendingSubmission) {
	n.update(ctx, sub, "", ecf.StatusPendingContingency, sub.LastError)
}

func (n *DocumentStatusNotifier) update(ctx context.Context, sub *entity.PendingSubmission, trackID string, status ecf.SubmissionStatus, message string) {
	if err := n.docs.UpdateStatus(ctx, sub.IssuerID, sub.DocumentID, trackID, status, message); err != nil {
		n.log.Error().Str("issuer_id", sub.IssuerID).Str("encf", sub.DocumentID).Err(err).Msg("no se pudo actualizar el comprobante")
	}
}
