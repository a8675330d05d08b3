package http

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/ecf-core/internal/application/dto"
	"github.com/jhoicas/ecf-core/internal/domain"
)

// errorMapping traducción de un error de dominio a respuesta HTTP. Se evalúa en orden.
var errorMapping = []struct {
	err    error
	status int
	code   string
}{
	{domain.ErrValidation, fiber.StatusBadRequest, "VALIDATION"},
	{domain.ErrInvalidInput, fiber.StatusBadRequest, "VALIDATION"},
	{domain.ErrSequenceFormat, fiber.StatusBadRequest, "SEQUENCE_FORMAT"},
	{domain.ErrCertificateWrongPassword, fiber.StatusBadRequest, "CERTIFICATE_PASSWORD"},
	{domain.ErrCertificateMalformed, fiber.StatusBadRequest, "CERTIFICATE_MALFORMED"},
	{domain.ErrSequenceNotFound, fiber.StatusNotFound, "SEQUENCE_NOT_FOUND"},
	{domain.ErrCertificateNotFound, fiber.StatusNotFound, "CERTIFICATE_NOT_FOUND"},
	{domain.ErrNotFound, fiber.StatusNotFound, "NOT_FOUND"},
	{domain.ErrSequenceOverlap, fiber.StatusConflict, "SEQUENCE_OVERLAP"},
	{domain.ErrConflict, fiber.StatusConflict, "CONFLICT"},
	{domain.ErrSequenceExhausted, fiber.StatusUnprocessableEntity, "SEQUENCE_EXHAUSTED"},
	{domain.ErrSequenceExpired, fiber.StatusUnprocessableEntity, "SEQUENCE_EXPIRED"},
	{domain.ErrSequenceNotValidated, fiber.StatusUnprocessableEntity, "SEQUENCE_NOT_VALIDATED"},
	{domain.ErrCertificateExpired, fiber.StatusUnprocessableEntity, "CERTIFICATE_EXPIRED"},
	{domain.ErrCertificateInactive, fiber.StatusUnprocessableEntity, "CERTIFICATE_INACTIVE"},
	{domain.ErrAuthorityRejected, fiber.StatusUnprocessableEntity, "AUTHORITY_REJECTED"},
	{domain.ErrAuthorityUnavailable, fiber.StatusServiceUnavailable, "AUTHORITY_UNAVAILABLE"},
	{domain.ErrTimeout, fiber.StatusServiceUnavailable, "AUTHORITY_TIMEOUT"},
	{domain.ErrNetwork, fiber.StatusServiceUnavailable, "AUTHORITY_UNREACHABLE"},
	{domain.ErrParse, fiber.StatusBadGateway, "AUTHORITY_RESPONSE"},
	{domain.ErrForbidden, fiber.StatusForbidden, "FORBIDDEN"},
	{domain.ErrUnauthorized, fiber.StatusUnauthorized, "UNAUTHORIZED"},
}

// respondError escribe el error con el código que le corresponde; lo no clasificado es 500.
func respondError(c *fiber.Ctx, err error) error {
	for _, m := range errorMapping {
		if errors.Is(err, m.err) {
			return c.Status(m.status).JSON(dto.ErrorResponse{Code: m.code, Message: err.Error()})
		}
	}
	return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Code: "INTERNAL", Message: err.Error()})
}

func badRequest(c *fiber.Ctx, code, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: code, Message: message})
}

func missingIssuer(c *fiber.Ctx) error {
	return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Code: "UNAUTHORIZED", Message: "issuer_id no encontrado en el token"})
}
