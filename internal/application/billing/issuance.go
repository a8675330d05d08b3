// Package billing orquesta la emisión de comprobantes fiscales electrónicos: validación,
// asignación de e-NCF, firma, envío a la autoridad y desvío a contingencia.
package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jhoicas/ecf-core/internal/application/contingency"
	"github.com/jhoicas/ecf-core/internal/domain"
	domainecf "github.com/jhoicas/ecf-core/internal/domain/ecf"
	"github.com/jhoicas/ecf-core/internal/domain/entity"
	"github.com/jhoicas/ecf-core/internal/domain/repository"
	ecfxml "github.com/jhoicas/ecf-core/internal/infrastructure/ecf"
	"github.com/jhoicas/ecf-core/pkg/ecf"
	"github.com/jhoicas/ecf-core/pkg/logger"
)

// errSession la sesión con la autoridad no pudo obtenerse; el documento no llegó a enviarse.
var errSession = errors.New("sesión con la autoridad")

// IssuanceOrchestrator ejecuta el ciclo completo de emisión:
//
//	Validar → Certificado → e-NCF → Firma → Envío (o cola de contingencia) → Registro
//
// La validación y el certificado se comprueban antes de consumir un número.
type IssuanceOrchestrator struct {
	certs     CertificateSource
	numbers   NumberAllocator
	signer    DocumentSigner
	tokens    TokenSource
	authority AuthorityGateway
	queues    *contingency.Registry
	docs      repository.DocumentRepository
	env       ecf.Environment
	now       func() time.Time
	log       *logger.Logger
}

// NewIssuanceOrchestrator construye el orquestador con todas sus dependencias.
func NewIssuanceOrchestrator(
	certs CertificateSource,
	numbers NumberAllocator,
	signer DocumentSigner,
	tokens TokenSource,
	authority AuthorityGateway,
	queues *contingency.Registry,
	docs repository.DocumentRepository,
	env ecf.Environment,
	log *logger.Logger,
) *IssuanceOrchestrator {
	if log == nil {
		log = logger.Nop()
	}
	return &IssuanceOrchestrator{
		certs:     certs,
		numbers:   numbers,
		signer:    signer,
		tokens:    tokens,
		authority: authority,
		queues:    queues,
		docs:      docs,
		env:       env,
		now:       time.Now,
		log:       log.Component("issuance"),
	}
}

// WithClock reemplaza el reloj (tests).
func (o *IssuanceOrchestrator) WithClock(now func() time.Time) *IssuanceOrchestrator {
	o.now = now
	return o
}

// Issue emite el comprobante. Un rechazo de la autoridad no es un error: el resultado llega con
// estado rejected y el mensaje de la autoridad tal cual. Los fallos reintentables desvían el
// documento a contingencia (estado pending-contingency, track id = número de contingencia).
func (o *IssuanceOrchestrator) Issue(ctx context.Context, doc entity.FiscalDocument) (*entity.IssuanceResult, error) {
	now := o.now()
	log := o.log.Issuer(doc.IssuerID)

	// 1. Validación
	if err := domainecf.ValidateDocument(&doc, now); err != nil {
		return nil, err
	}

	// 2. Certificado (antes de consumir un número)
	cert, err := o.certs.Active(doc.IssuerID)
	if err != nil {
		return nil, err
	}
	if err := cert.Check(now); err != nil {
		return nil, err
	}

	// 3. e-NCF
	alloc, err := o.numbers.AllocateNext(ctx, doc.IssuerID, doc.Type)
	if err != nil {
		return nil, err
	}
	numbered := doc.WithNumber(alloc)
	if numbered.ID == "" {
		numbered.ID = uuid.NewString()
	}
	numbered.CreatedAt = now

	// 4-5. Firma
	signed, err := o.signer.Sign(&numbered, cert)
	if err != nil {
		log.Error().Str("encf", numbered.ENCF).Err(err).Msg("número asignado sin emitir: falló la firma")
		return nil, err
	}

	result := &entity.IssuanceResult{
		ENCF:         numbered.ENCF,
		SecurityCode: signed.SecurityCode,
		SignedXML:    signed.SignedXML,
		SignedAt:     signed.SignedAt,
		TimbreURL:    o.timbreURL(signed),
	}

	// 6. Envío o contingencia
	queue := o.queues.Queue(doc.IssuerID)
	if queue.IsActive() {
		if err := o.divert(ctx, queue, signed, result); err != nil {
			return nil, err
		}
	} else {
		ack, err := o.submit(ctx, doc.IssuerID, signed.SignedXML, signed.Filename())
		switch {
		case err == nil:
			result.Status = ecf.StatusReceived
			result.TrackID = ack.TrackID
		case errors.Is(err, context.Canceled):
			// El llamador abandonó; el documento firmado no se pierde.
			if err := o.divert(context.WithoutCancel(ctx), queue, signed, result); err != nil {
				return nil, err
			}
		case domain.IsRetryable(err) || errors.Is(err, errSession):
			if _, aerr := queue.Activate(ctx, contingency.KindForError(err), err.Error()); aerr != nil {
				log.Error().Err(aerr).Msg("activar contingencia")
			}
			if err := o.divert(ctx, queue, signed, result); err != nil {
				return nil, err
			}
		default:
			result.Status = ecf.StatusRejected
			result.Message = domain.RejectionMessage(err)
			log.Warn().Str("encf", result.ENCF).Str("message", result.Message).Msg("comprobante rechazado por la autoridad")
		}
	}

	// 7. Registro
	o.record(ctx, signed, result)
	log.Info().
		Str("encf", result.ENCF).
		Str("track_id", result.TrackID).
		Str("status", string(result.Status)).
		Msg("comprobante emitido")
	return result, nil
}

func (o *IssuanceOrchestrator) divert(ctx context.Context, queue *contingency.Queue, signed *entity.SignedDocument, result *entity.IssuanceResult) error {
	sub, err := queue.Enqueue(ctx, signed.SignedXML, contingency.EnqueueMeta{
		IssuerTaxID: signed.Document.IssuerTaxID,
		DocumentID:  signed.Document.ENCF,
	})
	if err != nil {
		return fmt.Errorf("encolar %s en contingencia: %w", signed.Document.ENCF, err)
	}
	result.Status = ecf.StatusPendingContingency
	result.TrackID = sub.ContingencyNumber
	return nil
}

func (o *IssuanceOrchestrator) submit(ctx context.Context, issuerID string, signedXML []byte, filename string) (*ecfxml.SubmitResult, error) {
	return withToken(ctx, o.tokens, issuerID, func(tok *ecfxml.Token) (*ecfxml.SubmitResult, error) {
		return o.authority.Submit(ctx, signedXML, filename, tok)
	})
}

// record guarda el comprobante para consultas posteriores. Un fallo aquí no deshace la emisión.
func (o *IssuanceOrchestrator) record(ctx context.Context, signed *entity.SignedDocument, result *entity.IssuanceResult) {
	rec := &entity.IssuedDocument{
		ID:           signed.Document.ID,
		IssuerID:     signed.Document.IssuerID,
		ENCF:         result.ENCF,
		DocumentType: signed.Document.Type,
		TrackID:      result.TrackID,
		Status:       result.Status,
		Message:      result.Message,
		SecurityCode: result.SecurityCode,
		Total:        signed.Document.GrandTotal,
		SignedXML:    signed.SignedXML,
		IssuedAt:     signed.SignedAt,
	}
	if err := o.docs.Save(context.WithoutCancel(ctx), rec); err != nil {
		o.log.Error().Str("issuer_id", rec.IssuerID).Str("encf", rec.ENCF).Err(err).Msg("no se pudo registrar el comprobante emitido")
	}
}

func (o *IssuanceOrchestrator) timbreURL(s *entity.SignedDocument) string {
	d := s.Document
	return ecf.TimbreURL(o.env, ecf.TimbreParams{
		IssuerTaxID:  d.IssuerTaxID,
		BuyerTaxID:   d.BuyerTaxID,
		ENCF:         d.ENCF,
		IssueDate:    d.IssueDate,
		Total:        d.GrandTotal,
		SignedAt:     s.SignedAt,
		SecurityCode: s.SecurityCode,
		Consumer:     d.IsConsumer() && d.GrandTotal.LessThan(ecf.ConsumerSummaryThreshold),
	})
}

// withToken ejecuta fn con el token del emisor. Si la autoridad rechaza el token, se descarta y
// se repite una vez con uno nuevo. Los fallos al obtener el token envuelven errSession.
func withToken[T any](ctx context.Context, tokens TokenSource, issuerID string, fn func(*ecfxml.Token) (T, error)) (T, error) {
	var zero T
	for attempt := 0; ; attempt++ {
		tok, err := tokens.Token(ctx, issuerID)
		if err != nil {
			return zero, fmt.Errorf("%w: %w", errSession, err)
		}
		out, err := fn(tok)
		if err != nil && attempt == 0 && domain.IsTokenRejected(err) {
			tokens.Invalidate(issuerID)
			continue
		}
		return out, err
	}
}
