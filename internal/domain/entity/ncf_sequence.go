package entity

import (
	"fmt"
	"time"

	"github.com/jhoicas/ecf-core/internal/domain"
	"github.com/jhoicas/ecf-core/pkg/ecf"
)

// SequenceState ciclo de vida de una secuencia NCF.
type SequenceState string

const (
	SequencePending   SequenceState = "pending"   // Registrada, límites sin validar por la autoridad
	SequenceActive    SequenceState = "active"    // Usable por el asignador
	SequenceExhausted SequenceState = "exhausted" // cursor > range_end
	SequenceExpired   SequenceState = "expired"   // expires_on vencido
	SequenceInactive  SequenceState = "inactive"  // Reemplazada o dada de baja
)

// AuthorityValidation resultado de validar cada límite del rango contra la autoridad.
type AuthorityValidation struct {
	Start bool
	End   bool
}

// Complete ambos límites reportaron "válido".
func (v AuthorityValidation) Complete() bool { return v.Start && v.End }

// NcfSequence rango de numeración otorgado por la autoridad a un emisor para un tipo de e-CF.
// Cursor es el próximo número a entregar; cuando supera RangeEnd la secuencia está agotada.
type NcfSequence struct {
	ID           string
	IssuerID     string
	DocumentType ecf.DocumentType
	Prefix       string
	RangeStart   uint64
	RangeEnd     uint64
	Cursor       uint64
	ExpiresOn    time.Time
	State        SequenceState
	Validation   AuthorityValidation
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Allocation número entregado por el asignador.
type Allocation struct {
	SequenceID   string
	DocumentType ecf.DocumentType
	Prefix       string
	Number       uint64
	ExpiresOn    time.Time
}

// ENCF número fiscal completo (prefijo + 8 dígitos).
func (a Allocation) ENCF() string { return ecf.FormatNCF(a.Prefix, a.Number) }

// ValidateFormat aplica las reglas de formato: prefijo, límites de 8 dígitos, rango y tipo.
func (s *NcfSequence) ValidateFormat() error {
	if !s.DocumentType.Valid() {
		return fmt.Errorf("%w: tipo de comprobante %q", domain.ErrSequenceFormat, s.DocumentType)
	}
	if err := ecf.ValidatePrefix(s.Prefix); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrSequenceFormat, err)
	}
	if s.RangeStart == 0 || s.RangeEnd > ecf.MaxSequenceNumber {
		return fmt.Errorf("%w: límites fuera de 00000001-99999999", domain.ErrSequenceFormat)
	}
	if s.RangeEnd < s.RangeStart {
		return fmt.Errorf("%w: range_end (%d) menor que range_start (%d)", domain.ErrSequenceFormat, s.RangeEnd, s.RangeStart)
	}
	if s.Cursor < s.RangeStart || s.Cursor > s.RangeEnd+1 {
		return fmt.Errorf("%w: cursor %d fuera del rango", domain.ErrSequenceFormat, s.Cursor)
	}
	if s.ExpiresOn.IsZero() {
		return fmt.Errorf("%w: fecha de vencimiento requerida", domain.ErrSequenceFormat)
	}
	return nil
}

// Overlaps indica si ambos rangos (mismo emisor y tipo) comparten algún número.
func (s *NcfSequence) Overlaps(o *NcfSequence) bool {
	if s.IssuerID != o.IssuerID || s.DocumentType != o.DocumentType {
		return false
	}
	return s.RangeStart <= o.RangeEnd && o.RangeStart <= s.RangeEnd
}

// IsActive la secuencia puede asignar números.
func (s *NcfSequence) IsActive() bool { return s.State == SequenceActive }

// Activate pasa a "active" solo si ambos límites fueron validados por la autoridad.
func (s *NcfSequence) Activate() error {
	if !s.Validation.Complete() {
		return domain.ErrSequenceNotValidated
	}
	s.State = SequenceActive
	return nil
}

// Advance entrega el cursor y lo avanza en uno. Si la secuencia está vencida o agotada cambia
// su estado y devuelve el error correspondiente sin avanzar.
func (s *NcfSequence) Advance(now time.Time) (Allocation, error) {
	if !s.IsActive() {
		return Allocation{}, domain.ErrSequenceNotFound
	}
	if s.Expired(now) {
		s.State = SequenceExpired
		return Allocation{}, domain.ErrSequenceExpired
	}
	if s.Cursor > s.RangeEnd {
		s.State = SequenceExhausted
		return Allocation{}, domain.ErrSequenceExhausted
	}
	n := s.Cursor
	s.Cursor++
	s.UpdatedAt = now
	return Allocation{
		SequenceID:   s.ID,
		DocumentType: s.DocumentType,
		Prefix:       s.Prefix,
		Number:       n,
		ExpiresOn:    s.ExpiresOn,
	}, nil
}

// Expired la fecha de vencimiento cubre el día completo.
func (s *NcfSequence) Expired(now time.Time) bool {
	y, m, d := s.ExpiresOn.Date()
	endOfDay := time.Date(y, m, d, 23, 59, 59, 0, s.ExpiresOn.Location())
	return now.After(endOfDay)
}

// Remaining cantidad de números aún disponibles.
func (s *NcfSequence) Remaining() uint64 {
	if s.Cursor > s.RangeEnd {
		return 0
	}
	return s.RangeEnd - s.Cursor + 1
}

// BoundNCF e-NCF del límite inicial (primer número por asignar) o final del rango.
func (s *NcfSequence) BoundNCF(end bool) string {
	if end {
		return ecf.FormatNCF(s.Prefix, s.RangeEnd)
	}
	return ecf.FormatNCF(s.Prefix, s.Cursor)
}
