// Package contingency mantiene el modo de contingencia de cada emisor: cola local de envíos
// firmados mientras la autoridad no está disponible y drenado con reintentos al recuperarse.
package contingency

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/jhoicas/ecf-core/internal/domain"
	"github.com/jhoicas/ecf-core/internal/domain/entity"
	"github.com/jhoicas/ecf-core/internal/domain/repository"
	"github.com/jhoicas/ecf-core/pkg/ecf"
	"github.com/jhoicas/ecf-core/pkg/logger"
)

// NumberPrefix prefijo de los números locales de contingencia.
const NumberPrefix = "CTG"

// Resubmitter reenvía un documento encolado y devuelve el track id definitivo.
type Resubmitter interface {
	Resubmit(ctx context.Context, sub *entity.PendingSubmission) (string, error)
}

// Mode estado de contingencia de un emisor. Inmutable: las transiciones reemplazan el puntero.
type Mode struct {
	Active      bool
	Since       time.Time
	Kind        entity.EventKind
	Description string
}

var normalMode = &Mode{}

// EnqueueMeta datos del documento que se encola.
type EnqueueMeta struct {
	IssuerTaxID string
	DocumentID  string // e-NCF
}

// DrainReport resultado de un drenado.
type DrainReport struct {
	Resolved int
	Stuck    int
	Skipped  bool // Ya había un drenado en curso
}

// Queue cola de contingencia de un emisor.
type Queue struct {
	issuerID    string
	repo        repository.ContingencyRepository
	resubmitter Resubmitter
	notifier    Notifier
	policy      Policy

	mode     atomic.Pointer[Mode]
	draining atomic.Bool
	baseCtx  context.Context // Drenados en segundo plano

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	log   *logger.Logger
}

// Options dependencias compartidas por las colas de un Registry.
type Options struct {
	Repo        repository.ContingencyRepository
	Resubmitter Resubmitter
	Notifier    Notifier
	Policy      Policy
	Now         func() time.Time
	Sleep       func(ctx context.Context, d time.Duration) error
	Log         *logger.Logger
	// BaseContext acota los drenados en segundo plano; al cancelarlo se interrumpen las esperas
	// y los reenvíos en curso.
	BaseContext context.Context
}

func (o Options) withDefaults() Options {
	if o.Policy.MaxAttempts <= 0 {
		o.Policy.MaxAttempts = DefaultMaxAttempts
	}
	if o.Policy.Backoff == "" {
		o.Policy.Backoff = BackoffExponential
	}
	if o.Notifier == nil {
		o.Notifier = NewLogNotifier(o.Log)
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Sleep == nil {
		o.Sleep = sleepCtx
	}
	if o.Log == nil {
		o.Log = logger.Nop()
	}
	if o.BaseContext == nil {
		o.BaseContext = context.Background()
	}
	return o
}

// NewQueue crea la cola del emisor en modo normal.
func NewQueue(issuerID string, opts Options) *Queue {
	opts = opts.withDefaults()
	q := &Queue{
		issuerID:    issuerID,
		repo:        opts.Repo,
		resubmitter: opts.Resubmitter,
		notifier:    opts.Notifier,
		policy:      opts.Policy,
		now:         opts.Now,
		sleep:       opts.Sleep,
		baseCtx:     opts.BaseContext,
		log:         opts.Log.Component("contingency").Issuer(issuerID),
	}
	q.mode.Store(normalMode)
	return q
}

// IssuerID emisor de la cola.
func (q *Queue) IssuerID() string { return q.issuerID }

// Mode estado actual.
func (q *Queue) Mode() Mode { return *q.mode.Load() }

// IsActive el emisor está en contingencia.
func (q *Queue) IsActive() bool { return q.mode.Load().Active }

// Activate entra en contingencia. Solo la llamada que realiza la transición registra el evento
// y devuelve true.
func (q *Queue) Activate(ctx context.Context, kind entity.EventKind, description string) (bool, error) {
	if !entity.ValidEventKind(kind) {
		kind = entity.EventSystemError
	}
	cur := q.mode.Load()
	if cur.Active {
		return false, nil
	}
	next := &Mode{Active: true, Since: q.now(), Kind: kind, Description: description}
	if !q.mode.CompareAndSwap(cur, next) {
		return false, nil
	}

	ev := &entity.ContingencyEvent{
		ID:          uuid.NewString(),
		IssuerID:    q.issuerID,
		Timestamp:   next.Since,
		Kind:        kind,
		Description: description,
	}
	q.log.Warn().Str("kind", string(kind)).Str("description", description).Msg("modo contingencia activado")
	if err := q.repo.AppendEvent(ctx, ev); err != nil {
		return true, fmt.Errorf("registrar evento de contingencia: %w", err)
	}
	return true, nil
}

// Deactivate vuelve a modo normal, resuelve los eventos abiertos y lanza un drenado en segundo
// plano. Solo la llamada que realiza la transición devuelve true.
func (q *Queue) Deactivate(ctx context.Context) (bool, error) {
	cur := q.mode.Load()
	if !cur.Active {
		return false, nil
	}
	if !q.mode.CompareAndSwap(cur, normalMode) {
		return false, nil
	}
	n, err := q.repo.ResolveOpenEvents(ctx, q.issuerID, q.now())
	q.log.Info().Int("resolved_events", n).Dur("duration", q.now().Sub(cur.Since)).Msg("modo contingencia desactivado")

	go func() {
		if _, err := q.Drain(q.baseCtx); err != nil {
			if q.baseCtx.Err() != nil {
				q.log.Info().Msg("drenado interrumpido por apagado")
				return
			}
			q.log.Error().Err(err).Msg("drenado tras desactivar contingencia")
		}
	}()
	if err != nil {
		return true, fmt.Errorf("resolver eventos de contingencia: %w", err)
	}
	return true, nil
}

// Enqueue guarda un documento firmado para reenviarlo luego. Siempre se acepta; el número de
// contingencia sale de un contador local del emisor, no del rango NCF.
func (q *Queue) Enqueue(ctx context.Context, signedXML []byte, meta EnqueueMeta) (*entity.PendingSubmission, error) {
	n, err := q.repo.NextContingencyNumber(ctx, q.issuerID)
	if err != nil {
		return nil, fmt.Errorf("número de contingencia: %w", err)
	}
	sub := &entity.PendingSubmission{
		ID:                uuid.NewString(),
		ContingencyNumber: NumberPrefix + ecf.FormatSequenceNumber(n),
		IssuerID:          q.issuerID,
		IssuerTaxID:       meta.IssuerTaxID,
		DocumentID:        meta.DocumentID,
		SignedXML:         append([]byte(nil), signedXML...),
		EnqueuedAt:        q.now(),
		State:             entity.SubmissionPending,
	}
	if err := q.repo.Enqueue(ctx, sub); err != nil {
		return nil, fmt.Errorf("encolar envío: %w", err)
	}
	q.log.Info().Str("encf", sub.DocumentID).Str("contingency_number", sub.ContingencyNumber).Msg("documento encolado en contingencia")
	return sub, nil
}

// Drain reenvía los documentos pendientes en orden de llegada. Cada uno se reintenta según la
// política; al agotar los intentos, o ante un rechazo definitivo, queda atascado y se notifica.
// Nunca se descarta un envío.
func (q *Queue) Drain(ctx context.Context) (DrainReport, error) {
	if !q.draining.CompareAndSwap(false, true) {
		return DrainReport{Skipped: true}, nil
	}
	defer q.draining.Store(false)

	var report DrainReport
	pending, err := q.repo.ListPending(ctx, q.issuerID)
	if err != nil {
		return report, fmt.Errorf("listar pendientes: %w", err)
	}
	for _, sub := range pending {
		if q.IsActive() {
			q.log.Debug().Msg("contingencia reactivada: drenado interrumpido")
			break
		}
		resolved, err := q.drainOne(ctx, sub)
		if err != nil {
			return report, err
		}
		if resolved {
			report.Resolved++
		} else {
			report.Stuck++
		}
	}
	return report, nil
}

func (q *Queue) drainOne(ctx context.Context, sub *entity.PendingSubmission) (bool, error) {
	for sub.Attempts < q.policy.MaxAttempts {
		if sub.Attempts > 0 {
			if err := q.sleep(ctx, q.policy.Delay(sub.Attempts)); err != nil {
				return false, err
			}
		}
		trackID, err := q.resubmitter.Resubmit(ctx, sub)
		at := q.now()
		sub.Attempts++
		sub.LastAttemptAt = &at

		if err == nil {
			if err := q.repo.Remove(ctx, sub.ID); err != nil {
				return false, fmt.Errorf("quitar envío %s: %w", sub.ContingencyNumber, err)
			}
			q.notifier.Resolved(ctx, sub, trackID)
			return true, nil
		}
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return false, ctx.Err()
		}

		sub.LastError = err.Error()
		if !domain.IsRetryable(err) {
			break
		}
		q.log.Debug().Str("contingency_number", sub.ContingencyNumber).Int("attempt", sub.Attempts).Err(err).Msg("reintento fallido")
		if err := q.repo.RecordAttempt(ctx, sub); err != nil {
			return false, fmt.Errorf("registrar intento: %w", err)
		}
	}

	sub.State = entity.SubmissionStuck
	if err := q.repo.RecordAttempt(ctx, sub); err != nil {
		return false, fmt.Errorf("marcar atascado: %w", err)
	}
	q.notifier.Stuck(ctx, sub)
	return false, nil
}

// Pending envíos en espera.
func (q *Queue) Pending(ctx context.Context) ([]*entity.PendingSubmission, error) {
	return q.repo.ListPending(ctx, q.issuerID)
}

// Stuck envíos que requieren intervención.
func (q *Queue) Stuck(ctx context.Context) ([]*entity.PendingSubmission, error) {
	return q.repo.ListStuck(ctx, q.issuerID)
}

// Events bitácora de activaciones.
func (q *Queue) Events(ctx context.Context) ([]*entity.ContingencyEvent, error) {
	return q.repo.ListEvents(ctx, q.issuerID)
}

// KindForError clasifica la causa de una activación.
func KindForError(err error) entity.EventKind {
	switch {
	case errors.Is(err, domain.ErrTimeout), errors.Is(err, domain.ErrNetwork):
		return entity.EventNetworkFailure
	case errors.Is(err, domain.ErrAuthorityUnavailable):
		return entity.EventAuthorityUnavailable
	case errors.Is(err, domain.ErrCertificateExpired), errors.Is(err, domain.ErrCertificateInactive),
		errors.Is(err, domain.ErrCertificateMalformed), errors.Is(err, domain.ErrCertificateNotFound):
		return entity.EventCertificateError
	default:
		return entity.EventSystemError
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
