package billing

import (
	"context"

	"github.com/jhoicas/ecf-core/internal/domain/entity"
	"github.com/jhoicas/ecf-core/internal/domain/repository"
	ecfxml "github.com/jhoicas/ecf-core/internal/infrastructure/ecf"
	"github.com/jhoicas/ecf-core/pkg/ecf"
	"github.com/jhoicas/ecf-core/pkg/logger"
)

// StatusUseCase consulta el estado de un comprobante emitido y lo actualiza en el registro.
type StatusUseCase struct {
	docs      repository.DocumentRepository
	tokens    TokenSource
	authority AuthorityGateway
	log       *logger.Logger
}

// NewStatusUseCase construye el caso de uso.
func NewStatusUseCase(docs repository.DocumentRepository, tokens TokenSource, authority AuthorityGateway, log *logger.Logger) *StatusUseCase {
	if log == nil {
		log = logger.Nop()
	}
	return &StatusUseCase{docs: docs, tokens: tokens, authority: authority, log: log.Component("document_status")}
}

// Status devuelve el comprobante con su estado más reciente. Los documentos en contingencia y
// los que ya tienen estado final no se consultan a la autoridad.
func (uc *StatusUseCase) Status(ctx context.Context, issuerID, encf string) (*entity.IssuedDocument, error) {
	doc, err := uc.docs.GetByENCF(ctx, issuerID, encf)
	if err != nil {
		return nil, err
	}
	if doc.Status == ecf.StatusPendingContingency || doc.Status.Final() || doc.TrackID == "" {
		return doc, nil
	}

	res, err := withToken(ctx, uc.tokens, issuerID, func(tok *ecfxml.Token) (*ecfxml.StatusResult, error) {
		return uc.authority.QueryStatus(ctx, doc.TrackID, tok)
	})
	if err != nil {
		return nil, err
	}
	if res.Status != doc.Status || res.Reason() != doc.Message {
		if err := uc.docs.UpdateStatus(ctx, issuerID, encf, "", res.Status, res.Reason()); err != nil {
			return nil, err
		}
		uc.log.Info().Str("issuer_id", issuerID).Str("encf", encf).Str("status", string(res.Status)).Msg("estado actualizado")
	}
	doc.Status = res.Status
	doc.Message = res.Reason()
	return doc, nil
}
