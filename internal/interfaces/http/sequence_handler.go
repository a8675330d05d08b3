package http

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/ecf-core/internal/application/dto"
	"github.com/jhoicas/ecf-core/internal/application/sequence"
	"github.com/jhoicas/ecf-core/internal/domain"
	"github.com/jhoicas/ecf-core/internal/domain/entity"
	"github.com/jhoicas/ecf-core/pkg/ecf"
)

// SequenceHandler administración de rangos NCF del emisor del token.
type SequenceHandler struct {
	store  *sequence.Store
	lookup sequence.Lookup
}

// NewSequenceHandler lookup valida los límites contra la autoridad.
func NewSequenceHandler(store *sequence.Store, lookup sequence.Lookup) *SequenceHandler {
	return &SequenceHandler{store: store, lookup: lookup}
}

// Register registra un rango nuevo.
// POST /api/sequences
func (h *SequenceHandler) Register(c *fiber.Ctx) error {
	issuerID := GetIssuerID(c)
	if issuerID == "" {
		return missingIssuer(c)
	}
	var in dto.SequenceRequest
	if err := c.BodyParser(&in); err != nil {
		return badRequest(c, "INVALID_BODY", "cuerpo inválido")
	}
	seq, err := toSequence(issuerID, in)
	if err != nil {
		return respondError(c, err)
	}
	if err := h.store.Register(c.UserContext(), seq, h.lookup); err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(toSequenceResponse(seq))
}

// Replace reemplaza todas las secuencias del emisor en una transacción.
// PUT /api/sequences
func (h *SequenceHandler) Replace(c *fiber.Ctx) error {
	issuerID := GetIssuerID(c)
	if issuerID == "" {
		return missingIssuer(c)
	}
	var in dto.ReplaceSequencesRequest
	if err := c.BodyParser(&in); err != nil {
		return badRequest(c, "INVALID_BODY", "cuerpo inválido")
	}
	proposed := make([]*entity.NcfSequence, 0, len(in.Sequences))
	for i, s := range in.Sequences {
		seq, err := toSequence(issuerID, s)
		if err != nil {
			return respondError(c, fmt.Errorf("secuencia %d: %w", i+1, err))
		}
		proposed = append(proposed, seq)
	}
	if err := h.store.ReplaceAll(c.UserContext(), issuerID, proposed, h.lookup); err != nil {
		return respondError(c, err)
	}
	return h.List(c)
}

// List secuencias del emisor.
// GET /api/sequences
func (h *SequenceHandler) List(c *fiber.Ctx) error {
	issuerID := GetIssuerID(c)
	if issuerID == "" {
		return missingIssuer(c)
	}
	seqs, err := h.store.List(c.UserContext(), issuerID)
	if err != nil {
		return respondError(c, err)
	}
	out := make([]dto.SequenceResponse, 0, len(seqs))
	for _, s := range seqs {
		out = append(out, toSequenceResponse(s))
	}
	return c.JSON(out)
}

func toSequence(issuerID string, in dto.SequenceRequest) (*entity.NcfSequence, error) {
	docType, err := ecf.ParseDocumentType(in.DocumentType)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSequenceFormat, err)
	}
	start, err := ecf.ParseSequenceNumber(in.RangeStart)
	if err != nil {
		return nil, fmt.Errorf("%w: inicio: %v", domain.ErrSequenceFormat, err)
	}
	end, err := ecf.ParseSequenceNumber(in.RangeEnd)
	if err != nil {
		return nil, fmt.Errorf("%w: fin: %v", domain.ErrSequenceFormat, err)
	}
	expires, err := time.Parse(dateLayout, in.ExpiresOn)
	if err != nil {
		return nil, fmt.Errorf("%w: vencimiento: %v", domain.ErrSequenceFormat, err)
	}
	return &entity.NcfSequence{
		IssuerID:     issuerID,
		DocumentType: docType,
		Prefix:       in.Prefix,
		RangeStart:   start,
		RangeEnd:     end,
		ExpiresOn:    expires,
	}, nil
}

func toSequenceResponse(s *entity.NcfSequence) dto.SequenceResponse {
	out := dto.SequenceResponse{
		ID:             s.ID,
		DocumentType:   string(s.DocumentType),
		Prefix:         s.Prefix,
		RangeStart:     ecf.FormatSequenceNumber(s.RangeStart),
		RangeEnd:       ecf.FormatSequenceNumber(s.RangeEnd),
		ExpiresOn:      s.ExpiresOn.Format(dateLayout),
		State:          string(s.State),
		StartValidated: s.Validation.Start,
		EndValidated:   s.Validation.End,
	}
	if s.Cursor <= s.RangeEnd {
		out.Next = ecf.FormatNCF(s.Prefix, s.Cursor)
	}
	return out
}
