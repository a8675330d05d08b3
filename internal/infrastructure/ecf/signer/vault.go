package signer

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jhoicas/ecf-core/internal/domain"
	"github.com/jhoicas/ecf-core/internal/domain/entity"
	"github.com/jhoicas/ecf-core/pkg/logger"
)

// Vault custodia en memoria los certificados de firma de cada emisor.
// Las llaves privadas nunca se persisten ni se loguean.
type Vault struct {
	mu    sync.RWMutex
	certs map[string][]*entity.SigningCertificate // issuerID -> en orden de carga
	now   func() time.Time
	log   *logger.Logger
}

// NewVault crea el almacén.
func NewVault(log *logger.Logger) *Vault {
	if log == nil {
		log = logger.Nop()
	}
	return &Vault{
		certs: make(map[string][]*entity.SigningCertificate),
		now:   time.Now,
		log:   log.Component("cert_vault"),
	}
}

// WithClock reemplaza el reloj (tests).
func (v *Vault) WithClock(now func() time.Time) *Vault {
	v.now = now
	return v
}

// Load decodifica un bundle PKCS#12 y lo deja como certificado activo del emisor.
func (v *Vault) Load(issuerID string, bundle []byte, password string) (*entity.SigningCertificate, error) {
	cert, key, err := DecodePKCS12(bundle, password)
	if err != nil {
		v.log.Warn().Str("issuer_id", issuerID).Err(err).Msg("bundle PKCS#12 rechazado")
		return nil, err
	}
	return v.store(issuerID, entity.NewSigningCertificate(uuid.NewString(), issuerID, cert, key, v.now()))
}

// LoadPEM carga un par certificado/llave en PEM.
func (v *Vault) LoadPEM(issuerID string, certPEM, keyPEM []byte) (*entity.SigningCertificate, error) {
	cert, key, err := DecodePEM(certPEM, keyPEM)
	if err != nil {
		v.log.Warn().Str("issuer_id", issuerID).Err(err).Msg("certificado PEM rechazado")
		return nil, err
	}
	return v.store(issuerID, entity.NewSigningCertificate(uuid.NewString(), issuerID, cert, key, v.now()))
}

// LoadFile carga desde disco: .p12/.pfx con contraseña, o .pem con llave opcional aparte.
func (v *Vault) LoadFile(issuerID, path, keyPath, password string) (*entity.SigningCertificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("leer certificado: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".p12", ".pfx":
		return v.Load(issuerID, data, password)
	}
	var keyPEM []byte
	if keyPath != "" {
		if keyPEM, err = os.ReadFile(keyPath); err != nil {
			return nil, fmt.Errorf("leer llave: %w", err)
		}
	}
	return v.LoadPEM(issuerID, data, keyPEM)
}

func (v *Vault) store(issuerID string, sc *entity.SigningCertificate) (*entity.SigningCertificate, error) {
	if strings.TrimSpace(issuerID) == "" {
		return nil, fmt.Errorf("%w: emisor requerido", domain.ErrInvalidInput)
	}
	now := v.now()
	if now.After(sc.NotAfter) {
		return nil, fmt.Errorf("%w: venció el %s", domain.ErrCertificateExpired, sc.NotAfter.Format(time.RFC3339))
	}

	v.mu.Lock()
	v.certs[issuerID] = append(v.certs[issuerID], sc)
	v.mu.Unlock()

	v.log.Info().Object("certificate", sc).Msg("certificado cargado")
	return sc, nil
}

// Active devuelve el certificado activo cargado más recientemente.
func (v *Vault) Active(issuerID string) (*entity.SigningCertificate, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	list := v.certs[issuerID]
	for i := len(list) - 1; i >= 0; i-- {
		if list[i].Active {
			return list[i], nil
		}
	}
	return nil, domain.ErrCertificateNotFound
}

// Deactivate marca un certificado como inactivo (revocación por el operador).
func (v *Vault) Deactivate(issuerID, id string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	for i, c := range v.certs[issuerID] {
		if c.ID == id {
			// Copia: quien ya tiene el puntero lo lee sin lock.
			off := *c
			off.Active = false
			v.certs[issuerID][i] = &off
			v.log.Info().Object("certificate", &off).Msg("certificado desactivado")
			return nil
		}
	}
	return fmt.Errorf("certificado %s: %w", id, domain.ErrNotFound)
}

// List certificados del emisor en orden de carga.
func (v *Vault) List(issuerID string) []*entity.SigningCertificate {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]*entity.SigningCertificate, len(v.certs[issuerID]))
	copy(out, v.certs[issuerID])
	return out
}
