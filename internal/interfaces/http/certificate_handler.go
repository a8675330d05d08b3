package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/ecf-core/internal/application/dto"
	"github.com/jhoicas/ecf-core/internal/domain/entity"
	"github.com/jhoicas/ecf-core/internal/infrastructure/ecf/signer"
)

// CertificateHandler carga y baja de certificados de firma del emisor del token.
type CertificateHandler struct {
	vault *signer.Vault
}

// NewCertificateHandler construye el handler.
func NewCertificateHandler(vault *signer.Vault) *CertificateHandler {
	return &CertificateHandler{vault: vault}
}

// Upload carga un .p12 (base64 en bundle) o un par PEM.
// POST /api/certificates
func (h *CertificateHandler) Upload(c *fiber.Ctx) error {
	issuerID := GetIssuerID(c)
	if issuerID == "" {
		return missingIssuer(c)
	}
	var in dto.CertificateUploadRequest
	if err := c.BodyParser(&in); err != nil {
		return badRequest(c, "INVALID_BODY", "cuerpo inválido")
	}

	var (
		cert *entity.SigningCertificate
		err  error
	)
	switch {
	case len(in.Bundle) > 0:
		cert, err = h.vault.Load(issuerID, in.Bundle, in.Password)
	case in.CertPEM != "" && in.KeyPEM != "":
		cert, err = h.vault.LoadPEM(issuerID, []byte(in.CertPEM), []byte(in.KeyPEM))
	default:
		return badRequest(c, "VALIDATION", "bundle o cert_pem + key_pem requeridos")
	}
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(toCertificateResponse(cert))
}

// List certificados cargados, activos o no.
// GET /api/certificates
func (h *CertificateHandler) List(c *fiber.Ctx) error {
	issuerID := GetIssuerID(c)
	if issuerID == "" {
		return missingIssuer(c)
	}
	certs := h.vault.List(issuerID)
	out := make([]dto.CertificateResponse, 0, len(certs))
	for _, cert := range certs {
		out = append(out, toCertificateResponse(cert))
	}
	return c.JSON(out)
}

// Deactivate da de baja un certificado.
// DELETE /api/certificates/:id
func (h *CertificateHandler) Deactivate(c *fiber.Ctx) error {
	issuerID := GetIssuerID(c)
	if issuerID == "" {
		return missingIssuer(c)
	}
	if err := h.vault.Deactivate(issuerID, c.Params("id")); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func toCertificateResponse(cert *entity.SigningCertificate) dto.CertificateResponse {
	return dto.CertificateResponse{
		ID:          cert.ID,
		SubjectName: cert.SubjectName,
		Serial:      cert.SerialNumber,
		NotBefore:   cert.NotBefore,
		NotAfter:    cert.NotAfter,
		LoadedAt:    cert.LoadedAt,
		Active:      cert.Active,
	}
}
