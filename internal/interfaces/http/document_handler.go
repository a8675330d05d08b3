package http

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/ecf-core/internal/application/billing"
	"github.com/jhoicas/ecf-core/internal/application/dto"
	"github.com/jhoicas/ecf-core/internal/domain/entity"
	"github.com/jhoicas/ecf-core/internal/infrastructure/ecf/signer"
	"github.com/jhoicas/ecf-core/pkg/ecf"
)

const dateLayout = "2006-01-02"

// DocumentHandler emisión, consulta de estado y verificación de comprobantes (protegido).
type DocumentHandler struct {
	issuance *billing.IssuanceOrchestrator
	status   *billing.StatusUseCase
	verifier *signer.DigitalSignatureService
}

// NewDocumentHandler construye el handler.
func NewDocumentHandler(issuance *billing.IssuanceOrchestrator, status *billing.StatusUseCase, verifier *signer.DigitalSignatureService) *DocumentHandler {
	return &DocumentHandler{issuance: issuance, status: status, verifier: verifier}
}

// Issue emite un comprobante.
// POST /api/documents
// 201 recibido o en contingencia; 422 si la autoridad lo rechazó (mismo cuerpo, con message).
func (h *DocumentHandler) Issue(c *fiber.Ctx) error {
	issuerID := GetIssuerID(c)
	if issuerID == "" {
		return missingIssuer(c)
	}
	var in dto.IssueDocumentRequest
	if err := c.BodyParser(&in); err != nil {
		return badRequest(c, "INVALID_BODY", "cuerpo inválido")
	}
	doc, err := toFiscalDocument(issuerID, in)
	if err != nil {
		return badRequest(c, "VALIDATION", err.Error())
	}

	res, err := h.issuance.Issue(c.UserContext(), doc)
	if err != nil {
		return respondError(c, err)
	}
	status := fiber.StatusCreated
	if res.Status == ecf.StatusRejected {
		status = fiber.StatusUnprocessableEntity
	}
	return c.Status(status).JSON(dto.IssuanceResponse{
		ENCF:         res.ENCF,
		TrackID:      res.TrackID,
		SecurityCode: res.SecurityCode,
		Status:       string(res.Status),
		Message:      res.Message,
		TimbreURL:    res.TimbreURL,
		SignedAt:     res.SignedAt,
		SignedXML:    res.SignedXML,
	})
}

// Status estado del comprobante; consulta a la autoridad si aún no es final.
// GET /api/documents/:encf/status
func (h *DocumentHandler) Status(c *fiber.Ctx) error {
	issuerID := GetIssuerID(c)
	if issuerID == "" {
		return missingIssuer(c)
	}
	doc, err := h.status.Status(c.UserContext(), issuerID, c.Params("encf"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(dto.DocumentStatusResponse{
		ENCF:         doc.ENCF,
		DocumentType: string(doc.DocumentType),
		TrackID:      doc.TrackID,
		Status:       string(doc.Status),
		Message:      doc.Message,
		SecurityCode: doc.SecurityCode,
		Total:        doc.Total,
		IssuedAt:     doc.IssuedAt,
		UpdatedAt:    doc.UpdatedAt,
	})
}

// Verify verifica la firma de un XML. Nunca falla por XML inválido: responde valid=false.
// POST /api/documents/verify (Content-Type: application/xml)
func (h *DocumentHandler) Verify(c *fiber.Ctx) error {
	body := c.Body()
	if len(body) == 0 {
		return badRequest(c, "INVALID_BODY", "XML firmado requerido")
	}
	out := dto.VerifyResponse{Valid: h.verifier.Verify(body)}
	if out.Valid {
		out.SecurityCode, _ = h.verifier.SecurityCode(body)
	}
	return c.JSON(out)
}

func toFiscalDocument(issuerID string, in dto.IssueDocumentRequest) (entity.FiscalDocument, error) {
	docType, err := ecf.ParseDocumentType(in.Type)
	if err != nil {
		return entity.FiscalDocument{}, err
	}
	issueDate, err := time.Parse(dateLayout, in.IssueDate)
	if err != nil {
		return entity.FiscalDocument{}, err
	}
	doc := entity.FiscalDocument{
		IssuerID:         issuerID,
		Type:             docType,
		IssueDate:        issueDate,
		IssuerTaxID:      in.IssuerTaxID,
		IssuerName:       in.IssuerName,
		IssuerAddress:    in.IssuerAddress,
		BuyerTaxID:       in.BuyerTaxID,
		BuyerName:        in.BuyerName,
		ModifiedENCF:     in.ModifiedENCF,
		ModificationCode: in.ModificationCode,
		TaxableTotal:     in.TaxableTotal,
		ExemptTotal:      in.ExemptTotal,
		ITBISTotal:       in.ITBISTotal,
		GrandTotal:       in.GrandTotal,
	}
	if in.ModifiedDate != "" {
		if doc.ModifiedDate, err = time.Parse(dateLayout, in.ModifiedDate); err != nil {
			return entity.FiscalDocument{}, err
		}
	}
	for i, l := range in.Lines {
		doc.Lines = append(doc.Lines, entity.DocumentLine{
			Number:      i + 1,
			Description: l.Description,
			Quantity:    l.Quantity,
			UnitPrice:   l.UnitPrice,
			ITBISRate:   l.ITBISRate,
			Amount:      l.Amount,
		})
	}
	return doc, nil
}
