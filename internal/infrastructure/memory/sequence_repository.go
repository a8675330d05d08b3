// Package memory implementa los puertos de persistencia en memoria de proceso. Se usa en
// tests y cuando el servicio corre sin base de datos (DB_ENABLED=false).
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jhoicas/ecf-core/internal/domain"
	"github.com/jhoicas/ecf-core/internal/domain/entity"
	"github.com/jhoicas/ecf-core/internal/domain/repository"
	"github.com/jhoicas/ecf-core/pkg/ecf"
)

var (
	_ repository.SequenceRepository = (*SequenceRepo)(nil)
	_ repository.SequenceTxRunner   = (*SequenceRepo)(nil)
)

// SequenceRepo guarda secuencias en un mapa protegido por un único mutex. Allocate y
// RunSequences se serializan con ese mutex, que hace de candado por (emisor, tipo).
type SequenceRepo struct {
	mu   sync.Mutex
	seqs map[string]*entity.NcfSequence
}

// NewSequenceRepo crea el repositorio vacío.
func NewSequenceRepo() *SequenceRepo {
	return &SequenceRepo{seqs: make(map[string]*entity.NcfSequence)}
}

// RunSequences ejecuta fn sobre una copia de trabajo; solo si fn termina sin error la copia
// reemplaza el estado.
func (r *SequenceRepo) RunSequences(ctx context.Context, fn func(repo repository.SequenceRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	work := &txSequences{seqs: cloneAll(r.seqs)}
	if err := fn(work); err != nil {
		return err
	}
	r.seqs = work.seqs
	return nil
}

func (r *SequenceRepo) Create(ctx context.Context, seq *entity.NcfSequence) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return createSeq(r.seqs, seq)
}

func (r *SequenceRepo) Update(ctx context.Context, seq *entity.NcfSequence) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return updateSeq(r.seqs, seq)
}

func (r *SequenceRepo) ListByIssuer(ctx context.Context, issuerID string) ([]*entity.NcfSequence, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return listSeqs(r.seqs, func(s *entity.NcfSequence) bool { return s.IssuerID == issuerID }), nil
}

func (r *SequenceRepo) ListActive(ctx context.Context, issuerID string, docType ecf.DocumentType) ([]*entity.NcfSequence, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return listSeqs(r.seqs, activeFilter(issuerID, docType)), nil
}

func (r *SequenceRepo) Allocate(ctx context.Context, issuerID string, docType ecf.DocumentType, now time.Time) (entity.Allocation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return allocate(r.seqs, issuerID, docType, now)
}

func (r *SequenceRepo) DeactivateAll(ctx context.Context, issuerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	deactivateAll(r.seqs, issuerID)
	return nil
}

// txSequences vista transaccional: opera sin candado porque RunSequences ya lo tiene.
type txSequences struct {
	seqs map[string]*entity.NcfSequence
}

func (t *txSequences) Create(ctx context.Context, seq *entity.NcfSequence) error {
	return createSeq(t.seqs, seq)
}

func (t *txSequences) Update(ctx context.Context, seq *entity.NcfSequence) error {
	return updateSeq(t.seqs, seq)
}

func (t *txSequences) ListByIssuer(ctx context.Context, issuerID string) ([]*entity.NcfSequence, error) {
	return listSeqs(t.seqs, func(s *entity.NcfSequence) bool { return s.IssuerID == issuerID }), nil
}

func (t *txSequences) ListActive(ctx context.Context, issuerID string, docType ecf.DocumentType) ([]*entity.NcfSequence, error) {
	return listSeqs(t.seqs, activeFilter(issuerID, docType)), nil
}

func (t *txSequences) Allocate(ctx context.Context, issuerID string, docType ecf.DocumentType, now time.Time) (entity.Allocation, error) {
	return allocate(t.seqs, issuerID, docType, now)
}

func (t *txSequences) DeactivateAll(ctx context.Context, issuerID string) error {
	deactivateAll(t.seqs, issuerID)
	return nil
}

// ── helpers ───────────────────────────────────────────────────────────────────

func createSeq(m map[string]*entity.NcfSequence, seq *entity.NcfSequence) error {
	if _, ok := m[seq.ID]; ok {
		return domain.ErrConflict
	}
	if seq.IsActive() {
		for _, other := range m {
			if other.IsActive() && other.Overlaps(seq) {
				return domain.ErrSequenceOverlap
			}
		}
	}
	cp := *seq
	m[seq.ID] = &cp
	return nil
}

func updateSeq(m map[string]*entity.NcfSequence, seq *entity.NcfSequence) error {
	cur, ok := m[seq.ID]
	if !ok {
		return domain.ErrSequenceNotFound
	}
	cp := *seq
	if cp.Cursor < cur.Cursor {
		cp.Cursor = cur.Cursor
	}
	m[seq.ID] = &cp
	return nil
}

func activeFilter(issuerID string, docType ecf.DocumentType) func(*entity.NcfSequence) bool {
	return func(s *entity.NcfSequence) bool {
		return s.IssuerID == issuerID && s.DocumentType == docType && s.IsActive()
	}
}

func listSeqs(m map[string]*entity.NcfSequence, keep func(*entity.NcfSequence) bool) []*entity.NcfSequence {
	var out []*entity.NcfSequence
	for _, s := range m {
		if keep(s) {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DocumentType != out[j].DocumentType {
			return out[i].DocumentType < out[j].DocumentType
		}
		return out[i].RangeStart < out[j].RangeStart
	})
	return out
}

// allocate usa la secuencia activa de menor range_start; si está vencida o agotada la marca y
// sigue con la siguiente.
func allocate(m map[string]*entity.NcfSequence, issuerID string, docType ecf.DocumentType, now time.Time) (entity.Allocation, error) {
	var candidates []*entity.NcfSequence
	for _, s := range m {
		if activeFilter(issuerID, docType)(s) {
			candidates = append(candidates, s)
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].RangeStart < candidates[j].RangeStart })

	for _, s := range candidates {
		if a, err := s.Advance(now); err == nil {
			return a, nil
		}
	}
	return entity.Allocation{}, exhaustionCause(m, issuerID, docType)
}

// exhaustionCause motivo por el que no quedan secuencias activas: el estado de la secuencia
// de mayor range_end ya cerrada, o ErrSequenceNotFound si nunca hubo una.
func exhaustionCause(m map[string]*entity.NcfSequence, issuerID string, docType ecf.DocumentType) error {
	var last *entity.NcfSequence
	for _, s := range m {
		if s.IssuerID != issuerID || s.DocumentType != docType {
			continue
		}
		if s.State != entity.SequenceExhausted && s.State != entity.SequenceExpired {
			continue
		}
		if last == nil || s.RangeEnd > last.RangeEnd {
			last = s
		}
	}
	switch {
	case last == nil:
		return domain.ErrSequenceNotFound
	case last.State == entity.SequenceExpired:
		return domain.ErrSequenceExpired
	default:
		return domain.ErrSequenceExhausted
	}
}

func deactivateAll(m map[string]*entity.NcfSequence, issuerID string) {
	for _, s := range m {
		if s.IssuerID == issuerID && (s.IsActive() || s.State == entity.SequencePending) {
			s.State = entity.SequenceInactive
		}
	}
}

func cloneAll(m map[string]*entity.NcfSequence) map[string]*entity.NcfSequence {
	out := make(map[string]*entity.NcfSequence, len(m))
	for k, v := range m {
		cp := *v
		out[k] = &cp
	}
	return out
}
