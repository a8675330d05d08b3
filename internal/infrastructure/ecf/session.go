package ecf

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/jhoicas/ecf-core/internal/domain/entity"
	"github.com/jhoicas/ecf-core/pkg/logger"
)

// Authenticator parte del cliente que emite tokens.
type Authenticator interface {
	FetchSeed(ctx context.Context) (*Seed, error)
	Authenticate(ctx context.Context, signedSeed []byte) (*Token, error)
}

// CertificateSource certificado activo de un emisor.
type CertificateSource interface {
	Active(issuerID string) (*entity.SigningCertificate, error)
}

// XMLSigner firma XML arbitrario.
type XMLSigner interface {
	SignXML(data []byte, cert *entity.SigningCertificate) ([]byte, error)
}

// TokenSession mantiene el token de un emisor: semilla, firma de la semilla y canje. Las
// renovaciones concurrentes se colapsan en una sola autenticación.
type TokenSession struct {
	issuerID string
	auth     Authenticator
	certs    CertificateSource
	signer   XMLSigner
	skew     time.Duration
	now      func() time.Time
	log      *logger.Logger

	mu    sync.RWMutex
	token *Token
	group singleflight.Group
}

// Token devuelve un token vigente (con margen skew), renovándolo si hace falta.
func (s *TokenSession) Token(ctx context.Context) (*Token, error) {
	if t := s.current(); t != nil {
		return t, nil
	}
	v, err, _ := s.group.Do(s.issuerID, func() (interface{}, error) {
		if t := s.current(); t != nil {
			return t, nil
		}
		return s.refresh(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Token), nil
}

// Invalidate descarta el token (p. ej. tras un 401).
func (s *TokenSession) Invalidate() {
	s.mu.Lock()
	s.token = nil
	s.mu.Unlock()
}

func (s *TokenSession) current() *Token {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token.ValidAt(s.now().Add(s.skew)) {
		return s.token
	}
	return nil
}

func (s *TokenSession) refresh(ctx context.Context) (*Token, error) {
	cert, err := s.certs.Active(s.issuerID)
	if err != nil {
		return nil, fmt.Errorf("autenticación: %w", err)
	}
	seed, err := s.auth.FetchSeed(ctx)
	if err != nil {
		return nil, err
	}
	signed, err := s.signer.SignXML(seed.Raw, cert)
	if err != nil {
		return nil, fmt.Errorf("autenticación: firmar semilla: %w", err)
	}
	token, err := s.auth.Authenticate(ctx, signed)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.token = token
	s.mu.Unlock()

	s.log.Info().Time("expires_at", token.ExpiresAt).Msg("sesión con la autoridad renovada")
	return token, nil
}

// Sessions una TokenSession por emisor, creada bajo demanda.
type Sessions struct {
	auth   Authenticator
	certs  CertificateSource
	signer XMLSigner
	skew   time.Duration
	now    func() time.Time
	log    *logger.Logger

	mu       sync.Mutex
	sessions map[string]*TokenSession
}

// NewSessions crea el registro de sesiones.
func NewSessions(auth Authenticator, certs CertificateSource, signer XMLSigner, skew time.Duration, log *logger.Logger) *Sessions {
	if log == nil {
		log = logger.Nop()
	}
	return &Sessions{
		auth:     auth,
		certs:    certs,
		signer:   signer,
		skew:     skew,
		now:      time.Now,
		log:      log.Component("authority_session"),
		sessions: make(map[string]*TokenSession),
	}
}

// WithClock reemplaza el reloj (tests). Debe llamarse antes de crear sesiones.
func (r *Sessions) WithClock(now func() time.Time) *Sessions {
	r.now = now
	return r
}

// Session sesión del emisor.
func (r *Sessions) Session(issuerID string) *TokenSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[issuerID]
	if !ok {
		s = &TokenSession{
			issuerID: issuerID,
			auth:     r.auth,
			certs:    r.certs,
			signer:   r.signer,
			skew:     r.skew,
			now:      r.now,
			log:      r.log.Issuer(issuerID),
		}
		r.sessions[issuerID] = s
	}
	return s
}

// Token atajo de Session(issuerID).Token(ctx).
func (r *Sessions) Token(ctx context.Context, issuerID string) (*Token, error) {
	return r.Session(issuerID).Token(ctx)
}

// Invalidate descarta el token del emisor.
func (r *Sessions) Invalidate(issuerID string) {
	r.Session(issuerID).Invalidate()
}
