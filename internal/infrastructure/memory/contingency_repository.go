package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jhoicas/ecf-core/internal/domain"
	"github.com/jhoicas/ecf-core/internal/domain/entity"
	"github.com/jhoicas/ecf-core/internal/domain/repository"
)

var _ repository.ContingencyRepository = (*ContingencyRepo)(nil)

// ContingencyRepo cola de contingencia y bitácora de eventos en memoria.
type ContingencyRepo struct {
	mu       sync.RWMutex
	events   []*entity.ContingencyEvent
	subs     map[string]*entity.PendingSubmission
	counters map[string]uint64 // issuerID -> último número de contingencia
}

// NewContingencyRepo crea el repositorio vacío.
func NewContingencyRepo() *ContingencyRepo {
	return &ContingencyRepo{
		subs:     make(map[string]*entity.PendingSubmission),
		counters: make(map[string]uint64),
	}
}

func (r *ContingencyRepo) AppendEvent(ctx context.Context, ev *entity.ContingencyEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *ev
	r.events = append(r.events, &cp)
	return nil
}

func (r *ContingencyRepo) ResolveOpenEvents(ctx context.Context, issuerID string, at time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.IssuerID == issuerID && !ev.Resolved {
			t := at
			ev.Resolved = true
			ev.ResolvedAt = &t
			n++
		}
	}
	return n, nil
}

func (r *ContingencyRepo) ListEvents(ctx context.Context, issuerID string) ([]*entity.ContingencyEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*entity.ContingencyEvent
	for _, ev := range r.events {
		if ev.IssuerID == issuerID {
			cp := *ev
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *ContingencyRepo) NextContingencyNumber(ctx context.Context, issuerID string) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters[issuerID]++
	return r.counters[issuerID], nil
}

func (r *ContingencyRepo) Enqueue(ctx context.Context, sub *entity.PendingSubmission) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subs[sub.ID]; ok {
		return domain.ErrConflict
	}
	r.subs[sub.ID] = cloneSub(sub)
	return nil
}

func (r *ContingencyRepo) GetSubmission(ctx context.Context, id string) (*entity.PendingSubmission, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.subs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneSub(s), nil
}

func (r *ContingencyRepo) ListPending(ctx context.Context, issuerID string) ([]*entity.PendingSubmission, error) {
	return r.listByState(issuerID, entity.SubmissionPending), nil
}

func (r *ContingencyRepo) ListStuck(ctx context.Context, issuerID string) ([]*entity.PendingSubmission, error) {
	return r.listByState(issuerID, entity.SubmissionStuck), nil
}

func (r *ContingencyRepo) RecordAttempt(ctx context.Context, sub *entity.PendingSubmission) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.subs[sub.ID]
	if !ok {
		return domain.ErrNotFound
	}
	cur.Attempts = sub.Attempts
	cur.LastAttemptAt = sub.LastAttemptAt
	cur.LastError = sub.LastError
	cur.State = sub.State
	return nil
}

func (r *ContingencyRepo) Remove(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subs[id]; !ok {
		return domain.ErrNotFound
	}
	delete(r.subs, id)
	return nil
}

func (r *ContingencyRepo) listByState(issuerID string, state entity.SubmissionState) []*entity.PendingSubmission {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*entity.PendingSubmission
	for _, s := range r.subs {
		if s.IssuerID == issuerID && s.State == state {
			out = append(out, cloneSub(s))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].EnqueuedAt.Equal(out[j].EnqueuedAt) {
			return out[i].EnqueuedAt.Before(out[j].EnqueuedAt)
		}
		return out[i].ContingencyNumber < out[j].ContingencyNumber
	})
	return out
}

func cloneSub(s *entity.PendingSubmission) *entity.PendingSubmission {
	cp := *s
	cp.SignedXML = append([]byte(nil), s.SignedXML...)
	if s.LastAttemptAt != nil {
		t := *s.LastAttemptAt
		cp.LastAttemptAt = &t
	}
	return &cp
}
