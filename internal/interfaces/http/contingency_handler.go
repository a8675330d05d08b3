package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/ecf-core/internal/application/contingency"
	"github.com/jhoicas/ecf-core/internal/application/dto"
	"github.com/jhoicas/ecf-core/internal/domain/entity"
)

// ContingencyHandler estado y operación manual del modo contingencia del emisor del token.
type ContingencyHandler struct {
	registry *contingency.Registry
}

// NewContingencyHandler construye el handler.
func NewContingencyHandler(registry *contingency.Registry) *ContingencyHandler {
	return &ContingencyHandler{registry: registry}
}

// Status modo actual y tamaño de la cola.
// GET /api/contingency
func (h *ContingencyHandler) Status(c *fiber.Ctx) error {
	issuerID := GetIssuerID(c)
	if issuerID == "" {
		return missingIssuer(c)
	}
	q := h.registry.Queue(issuerID)
	pending, err := q.Pending(c.UserContext())
	if err != nil {
		return respondError(c, err)
	}
	stuck, err := q.Stuck(c.UserContext())
	if err != nil {
		return respondError(c, err)
	}

	mode := q.Mode()
	out := dto.ContingencyStatusResponse{
		Active:      mode.Active,
		Kind:        string(mode.Kind),
		Description: mode.Description,
		Pending:     len(pending),
		Stuck:       len(stuck),
	}
	if mode.Active {
		since := mode.Since
		out.Since = &since
	}
	return c.JSON(out)
}

// Events bitácora de activaciones.
// GET /api/contingency/events
func (h *ContingencyHandler) Events(c *fiber.Ctx) error {
	issuerID := GetIssuerID(c)
	if issuerID == "" {
		return missingIssuer(c)
	}
	events, err := h.registry.Queue(issuerID).Events(c.UserContext())
	if err != nil {
		return respondError(c, err)
	}
	out := make([]dto.ContingencyEventResponse, 0, len(events))
	for _, ev := range events {
		out = append(out, dto.ContingencyEventResponse{
			ID:          ev.ID,
			Timestamp:   ev.Timestamp,
			Kind:        string(ev.Kind),
			Description: ev.Description,
			Resolved:    ev.Resolved,
			ResolvedAt:  ev.ResolvedAt,
		})
	}
	return c.JSON(out)
}

// Pending envíos en espera.
// GET /api/contingency/pending
func (h *ContingencyHandler) Pending(c *fiber.Ctx) error {
	issuerID := GetIssuerID(c)
	if issuerID == "" {
		return missingIssuer(c)
	}
	subs, err := h.registry.Queue(issuerID).Pending(c.UserContext())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(toSubmissionResponses(subs))
}

// Stuck envíos que requieren intervención.
// GET /api/contingency/stuck
func (h *ContingencyHandler) Stuck(c *fiber.Ctx) error {
	issuerID := GetIssuerID(c)
	if issuerID == "" {
		return missingIssuer(c)
	}
	subs, err := h.registry.Queue(issuerID).Stuck(c.UserContext())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(toSubmissionResponses(subs))
}

// Activate activación manual.
// POST /api/contingency/activate
func (h *ContingencyHandler) Activate(c *fiber.Ctx) error {
	issuerID := GetIssuerID(c)
	if issuerID == "" {
		return missingIssuer(c)
	}
	var in dto.ActivateContingencyRequest
	if err := c.BodyParser(&in); err != nil {
		return badRequest(c, "INVALID_BODY", "cuerpo inválido")
	}
	kind := entity.EventKind(in.Kind)
	if kind == "" {
		kind = entity.EventSystemError
	}
	if !entity.ValidEventKind(kind) {
		return badRequest(c, "VALIDATION", "kind inválido")
	}
	if _, err := h.registry.Queue(issuerID).Activate(c.UserContext(), kind, in.Description); err != nil {
		return respondError(c, err)
	}
	return h.Status(c)
}

// Deactivate vuelve a modo normal y lanza el drenado.
// POST /api/contingency/deactivate
func (h *ContingencyHandler) Deactivate(c *fiber.Ctx) error {
	issuerID := GetIssuerID(c)
	if issuerID == "" {
		return missingIssuer(c)
	}
	if _, err := h.registry.Queue(issuerID).Deactivate(c.UserContext()); err != nil {
		return respondError(c, err)
	}
	return h.Status(c)
}

// Drain drenado inmediato (síncrono).
// POST /api/contingency/drain
func (h *ContingencyHandler) Drain(c *fiber.Ctx) error {
	issuerID := GetIssuerID(c)
	if issuerID == "" {
		return missingIssuer(c)
	}
	q := h.registry.Queue(issuerID)
	if q.IsActive() {
		return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Code: "CONTINGENCY_ACTIVE", Message: "el emisor sigue en contingencia"})
	}
	report, err := q.Drain(c.UserContext())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(dto.DrainResponse{Resolved: report.Resolved, Stuck: report.Stuck, Skipped: report.Skipped})
}

func toSubmissionResponses(subs []*entity.PendingSubmission) []dto.PendingSubmissionResponse {
	out := make([]dto.PendingSubmissionResponse, 0, len(subs))
	for _, s := range subs {
		out = append(out, dto.PendingSubmissionResponse{
			ID:                s.ID,
			ContingencyNumber: s.ContingencyNumber,
			ENCF:              s.DocumentID,
			EnqueuedAt:        s.EnqueuedAt,
			Attempts:          s.Attempts,
			LastAttemptAt:     s.LastAttemptAt,
			LastError:         s.LastError,
			State:             string(s.State),
		})
	}
	return out
}
