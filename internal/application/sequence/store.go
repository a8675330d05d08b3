// Package sequence administra los rangos de numeración NCF de cada emisor: registro validado
// contra la autoridad, reemplazo transaccional y asignación atómica de números.
package sequence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jhoicas/ecf-core/internal/domain"
	"github.com/jhoicas/ecf-core/internal/domain/entity"
	"github.com/jhoicas/ecf-core/internal/domain/repository"
	"github.com/jhoicas/ecf-core/pkg/ecf"
	"github.com/jhoicas/ecf-core/pkg/logger"
)

// Lookup consulta a la autoridad si un e-NCF ya fue utilizado (o no está autorizado al emisor).
type Lookup interface {
	NCFUsed(ctx context.Context, issuerID, encf string) (bool, error)
}

// LookupFunc adapta una función a Lookup.
type LookupFunc func(ctx context.Context, issuerID, encf string) (bool, error)

func (f LookupFunc) NCFUsed(ctx context.Context, issuerID, encf string) (bool, error) {
	return f(ctx, issuerID, encf)
}

// Verdict resultado de validar un límite del rango.
type Verdict string

const (
	VerdictValid       Verdict = "valid"
	VerdictUsed        Verdict = "used"
	VerdictUnavailable Verdict = "unavailable"
)

// Bound límite del rango a validar.
type Bound int

const (
	BoundStart Bound = iota // Primer número por asignar (el cursor)
	BoundEnd
)

func (b Bound) String() string {
	if b == BoundEnd {
		return "final"
	}
	return "inicial"
}

// Store casos de uso de secuencias NCF.
type Store struct {
	repo repository.SequenceRepository
	tx   repository.SequenceTxRunner
	now  func() time.Time
	log  *logger.Logger
}

// NewStore crea el caso de uso.
func NewStore(repo repository.SequenceRepository, tx repository.SequenceTxRunner, log *logger.Logger) *Store {
	if log == nil {
		log = logger.Nop()
	}
	return &Store{repo: repo, tx: tx, now: time.Now, log: log.Component("sequence_store")}
}

// WithClock reemplaza el reloj (tests).
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// Register valida formato, solapamiento y ambos límites contra la autoridad, en ese orden, y
// guarda la secuencia como activa. Si algo falla no se guarda nada.
func (s *Store) Register(ctx context.Context, seq *entity.NcfSequence, lookup Lookup) error {
	if err := s.prepare(seq); err != nil {
		return err
	}

	active, err := s.repo.ListActive(ctx, seq.IssuerID, seq.DocumentType)
	if err != nil {
		return fmt.Errorf("listar secuencias activas: %w", err)
	}
	if other := firstOverlap(seq, active); other != nil {
		return fmt.Errorf("%w: %s-%s se cruza con %s-%s", domain.ErrSequenceOverlap,
			seq.BoundNCF(false), seq.BoundNCF(true), other.BoundNCF(false), other.BoundNCF(true))
	}

	existing, err := s.repo.ListByIssuer(ctx, seq.IssuerID)
	if err != nil {
		return fmt.Errorf("listar secuencias: %w", err)
	}
	carryForward(seq, existing)
	if seq.Cursor > seq.RangeEnd {
		return fmt.Errorf("%w: el rango %s-%s ya fue emitido", domain.ErrSequenceExhausted, ecf.FormatNCF(seq.Prefix, seq.RangeStart), seq.BoundNCF(true))
	}

	if err := s.validateBounds(ctx, seq, lookup); err != nil {
		return err
	}
	if err := seq.Activate(); err != nil {
		return err
	}

	err = s.tx.RunSequences(ctx, func(repo repository.SequenceRepository) error {
		// Otra alta pudo confirmarse mientras se consultaba a la autoridad.
		active, err := repo.ListActive(ctx, seq.IssuerID, seq.DocumentType)
		if err != nil {
			return err
		}
		if firstOverlap(seq, active) != nil {
			return domain.ErrSequenceOverlap
		}
		return repo.Create(ctx, seq)
	})
	if err != nil {
		return err
	}
	s.log.Info().
		Str("issuer_id", seq.IssuerID).
		Str("document_type", string(seq.DocumentType)).
		Str("from", seq.BoundNCF(false)).
		Str("to", seq.BoundNCF(true)).
		Msg("secuencia NCF registrada")
	return nil
}

// AllocateNext entrega el próximo número del emisor para el tipo y avanza el cursor.
func (s *Store) AllocateNext(ctx context.Context, issuerID string, docType ecf.DocumentType) (entity.Allocation, error) {
	a, err := s.repo.Allocate(ctx, issuerID, docType, s.now())
	if err != nil {
		if errors.Is(err, domain.ErrSequenceExhausted) || errors.Is(err, domain.ErrSequenceExpired) {
			s.log.Warn().Str("issuer_id", issuerID).Str("document_type", string(docType)).Err(err).
				Msg("sin numeración disponible; se requiere reaprovisionar")
		}
		return entity.Allocation{}, err
	}
	return a, nil
}

// ValidateAgainstAuthority consulta un límite del rango. Los errores de la consulta se reportan
// como VerdictUnavailable.
func (s *Store) ValidateAgainstAuthority(ctx context.Context, seq *entity.NcfSequence, bound Bound, lookup Lookup) Verdict {
	encf := seq.BoundNCF(bound == BoundEnd)
	used, err := lookup.NCFUsed(ctx, seq.IssuerID, encf)
	switch {
	case err != nil:
		s.log.Warn().Str("issuer_id", seq.IssuerID).Str("encf", encf).Err(err).Msg("no se pudo validar el límite")
		return VerdictUnavailable
	case used:
		return VerdictUsed
	default:
		return VerdictValid
	}
}

// ReplaceAll reemplaza todas las secuencias del emisor en una transacción. Cada propuesta pasa
// formato, solapamiento entre propuestas y validación de la autoridad, o no se confirma nada.
// Los cursores de secuencias previas que cubren el mismo rango se conservan.
func (s *Store) ReplaceAll(ctx context.Context, issuerID string, proposed []*entity.NcfSequence, lookup Lookup) error {
	for _, p := range proposed {
		p.IssuerID = issuerID
		if err := s.prepare(p); err != nil {
			return err
		}
	}
	for i, a := range proposed {
		for _, b := range proposed[i+1:] {
			if a.Overlaps(b) {
				return fmt.Errorf("%w: propuestas %s y %s", domain.ErrSequenceOverlap, a.BoundNCF(false), b.BoundNCF(false))
			}
		}
	}

	existing, err := s.repo.ListByIssuer(ctx, issuerID)
	if err != nil {
		return fmt.Errorf("listar secuencias: %w", err)
	}
	for _, p := range proposed {
		carryForward(p, existing)
		if p.Cursor > p.RangeEnd {
			// Todo el rango ya fue emitido: nada que validar.
			p.State = entity.SequenceExhausted
			continue
		}
		if err := s.validateBounds(ctx, p, lookup); err != nil {
			return err
		}
		if err := p.Activate(); err != nil {
			return err
		}
	}
	if err := requireActive(proposed); err != nil {
		return err
	}

	err = s.tx.RunSequences(ctx, func(repo repository.SequenceRepository) error {
		current, err := repo.ListByIssuer(ctx, issuerID)
		if err != nil {
			return err
		}
		if err := repo.DeactivateAll(ctx, issuerID); err != nil {
			return err
		}
		for _, p := range proposed {
			// Números asignados durante la validación.
			carryForward(p, current)
			if p.Cursor > p.RangeEnd {
				p.State = entity.SequenceExhausted
			}
			if err := repo.Create(ctx, p); err != nil {
				return err
			}
		}
		return requireActive(proposed)
	})
	if err != nil {
		return err
	}
	s.log.Info().Str("issuer_id", issuerID).Int("sequences", len(proposed)).Msg("secuencias NCF reemplazadas")
	return nil
}

// List secuencias del emisor.
func (s *Store) List(ctx context.Context, issuerID string) ([]*entity.NcfSequence, error) {
	return s.repo.ListByIssuer(ctx, issuerID)
}

// prepare completa valores por defecto y aplica las reglas de formato.
func (s *Store) prepare(seq *entity.NcfSequence) error {
	if seq == nil {
		return fmt.Errorf("%w: secuencia nula", domain.ErrSequenceFormat)
	}
	if strings.TrimSpace(seq.IssuerID) == "" {
		return fmt.Errorf("%w: emisor requerido", domain.ErrSequenceFormat)
	}
	now := s.now()
	if seq.ID == "" {
		seq.ID = uuid.NewString()
	}
	seq.Prefix = strings.ToUpper(strings.TrimSpace(seq.Prefix))
	if seq.Cursor == 0 {
		seq.Cursor = seq.RangeStart
	}
	seq.State = entity.SequencePending
	seq.Validation = entity.AuthorityValidation{}
	if seq.CreatedAt.IsZero() {
		seq.CreatedAt = now
	}
	seq.UpdatedAt = now
	if err := seq.ValidateFormat(); err != nil {
		return err
	}
	if seq.Expired(now) {
		return fmt.Errorf("%w: la fecha de vencimiento %s ya pasó", domain.ErrSequenceFormat, seq.ExpiresOn.Format("2006-01-02"))
	}
	return nil
}

// validateBounds ambos límites deben ser "valid".
func (s *Store) validateBounds(ctx context.Context, seq *entity.NcfSequence, lookup Lookup) error {
	if lookup == nil {
		return fmt.Errorf("%w: sin consulta a la autoridad", domain.ErrSequenceNotValidated)
	}
	for _, b := range []Bound{BoundStart, BoundEnd} {
		switch v := s.ValidateAgainstAuthority(ctx, seq, b, lookup); v {
		case VerdictValid:
			if b == BoundStart {
				seq.Validation.Start = true
			} else {
				seq.Validation.End = true
			}
		case VerdictUsed:
			return fmt.Errorf("%w: límite %s %s ya utilizado o no autorizado", domain.ErrSequenceNotValidated, b, seq.BoundNCF(b == BoundEnd))
		default:
			return fmt.Errorf("%w: límite %s %s: %w", domain.ErrSequenceNotValidated, b, seq.BoundNCF(b == BoundEnd), domain.ErrAuthorityUnavailable)
		}
	}
	return nil
}

func firstOverlap(seq *entity.NcfSequence, others []*entity.NcfSequence) *entity.NcfSequence {
	for _, o := range others {
		if o.ID != seq.ID && o.IsActive() && o.Overlaps(seq) {
			return o
		}
	}
	return nil
}

// carryForward el cursor de la propuesta no puede quedar por debajo del de ninguna secuencia
// previa (cualquier estado) del mismo tipo cuyo rango se cruce con el suyo.
// requireActive el reemplazo debe dejar al emisor con al menos una secuencia utilizable.
func requireActive(proposed []*entity.NcfSequence) error {
	for _, p := range proposed {
		if p.IsActive() {
			return nil
		}
	}
	return fmt.Errorf("%w: el reemplazo no deja ninguna secuencia activa", domain.ErrSequenceFormat)
}

func carryForward(p *entity.NcfSequence, existing []*entity.NcfSequence) {
	for _, old := range existing {
		if old.ID == p.ID || !old.Overlaps(p) {
			continue
		}
		if old.Cursor > p.Cursor {
			p.Cursor = old.Cursor
		}
	}
	if p.Cursor > p.RangeEnd+1 {
		p.Cursor = p.RangeEnd + 1
	}
}
