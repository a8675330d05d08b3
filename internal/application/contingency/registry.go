package contingency

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jhoicas/ecf-core/pkg/logger"
)

// Registry una cola por emisor, creada bajo demanda con dependencias compartidas.
type Registry struct {
	opts Options

	mu     sync.Mutex
	queues map[string]*Queue
}

// NewRegistry crea el registro.
func NewRegistry(opts Options) *Registry {
	return &Registry{opts: opts.withDefaults(), queues: make(map[string]*Queue)}
}

// Queue cola del emisor.
func (r *Registry) Queue(issuerID string) *Queue {
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.queues[issuerID]
	if !ok {
		q = NewQueue(issuerID, r.opts)
		r.queues[issuerID] = q
	}
	return q
}

// Queues colas existentes ordenadas por emisor.
func (r *Registry) Queues() []*Queue {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Queue, 0, len(r.queues))
	for _, q := range r.queues {
		out = append(out, q)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].issuerID < out[j].issuerID })
	return out
}

// Prober sondea la disponibilidad de la autoridad.
type Prober interface {
	Ping(ctx context.Context) error
}

// Monitor sondea la autoridad en su propia goroutine y cambia el modo de todas las colas.
// Los errores de la sonda nunca se propagan.
type Monitor struct {
	prober        Prober
	registry      *Registry
	probeInterval time.Duration
	drainInterval time.Duration
	probeTimeout  time.Duration
	log           *logger.Logger
}

// NewMonitor issuerIDs son los emisores cuyas colas deben existir desde el arranque.
func NewMonitor(prober Prober, registry *Registry, issuerIDs []string, probeInterval, drainInterval time.Duration, log *logger.Logger) *Monitor {
	if log == nil {
		log = logger.Nop()
	}
	for _, id := range issuerIDs {
		if id != "" {
			registry.Queue(id)
		}
	}
	timeout := probeInterval / 2
	if timeout <= 0 || timeout > 10*time.Second {
		timeout = 10 * time.Second
	}
	return &Monitor{
		prober:        prober,
		registry:      registry,
		probeInterval: probeInterval,
		drainInterval: drainInterval,
		probeTimeout:  timeout,
		log:           log.Component("contingency_monitor"),
	}
}

// Run sondea cada probeInterval y drena cada drainInterval hasta que ctx termine.
func (m *Monitor) Run(ctx context.Context) {
	if m.probeInterval <= 0 {
		m.log.Warn().Msg("sonda de contingencia deshabilitada")
		return
	}
	probe := time.NewTicker(m.probeInterval)
	defer probe.Stop()

	var drain <-chan time.Time
	if m.drainInterval > 0 {
		t := time.NewTicker(m.drainInterval)
		defer t.Stop()
		drain = t.C
	}

	m.log.Info().Dur("probe_interval", m.probeInterval).Dur("drain_interval", m.drainInterval).Msg("monitor de contingencia iniciado")
	for {
		select {
		case <-ctx.Done():
			m.log.Info().Msg("monitor de contingencia detenido")
			return
		case <-probe.C:
			m.Probe(ctx)
		case <-drain:
			m.DrainAll(ctx)
		}
	}
}

// Probe una sonda: falla → activa contingencia en todas las colas; éxito → desactiva las activas.
func (m *Monitor) Probe(ctx context.Context) {
	pctx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	err := m.prober.Ping(pctx)
	cancel()

	for _, q := range m.registry.Queues() {
		var cerr error
		if err != nil {
			_, cerr = q.Activate(ctx, KindForError(err), err.Error())
		} else if q.IsActive() {
			_, cerr = q.Deactivate(ctx)
		}
		if cerr != nil {
			m.log.Error().Str("issuer_id", q.IssuerID()).Err(cerr).Msg("transición de contingencia")
		}
	}
	if err != nil {
		m.log.Debug().Err(err).Msg("sonda de la autoridad fallida")
	}
}

// DrainAll drena las colas en modo normal.
func (m *Monitor) DrainAll(ctx context.Context) {
	for _, q := range m.registry.Queues() {
		if q.IsActive() {
			continue
		}
		report, err := q.Drain(ctx)
		if err != nil {
			m.log.Error().Str("issuer_id", q.IssuerID()).Err(err).Msg("drenado periódico")
			continue
		}
		if report.Resolved+report.Stuck > 0 {
			m.log.Info().Str("issuer_id", q.IssuerID()).Int("resolved", report.Resolved).Int("stuck", report.Stuck).Msg("drenado periódico")
		}
	}
}
