package entity

import (
	"crypto/rsa"
	"crypto/x509"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/jhoicas/ecf-core/internal/domain"
)

// SigningCertificate certificado X.509 de firma de un emisor. La llave privada vive solo en
// memoria: no se exporta, no se serializa y no aparece en logs.
type SigningCertificate struct {
	ID           string
	IssuerID     string
	SubjectName  string
	SerialNumber string // Hexadecimal
	Certificate  *x509.Certificate
	NotBefore    time.Time
	NotAfter     time.Time
	LoadedAt     time.Time
	Active       bool

	privateKey *rsa.PrivateKey
}

// NewSigningCertificate arma el certificado con su llave privada.
func NewSigningCertificate(id, issuerID string, cert *x509.Certificate, key *rsa.PrivateKey, loadedAt time.Time) *SigningCertificate {
	return &SigningCertificate{
		ID:           id,
		IssuerID:     issuerID,
		SubjectName:  cert.Subject.String(),
		SerialNumber: cert.SerialNumber.Text(16),
		Certificate:  cert,
		NotBefore:    cert.NotBefore,
		NotAfter:     cert.NotAfter,
		LoadedAt:     loadedAt,
		Active:       true,
		privateKey:   key,
	}
}

// PrivateKey llave para firmar. Solo la usa el motor de firma.
func (c *SigningCertificate) PrivateKey() *rsa.PrivateKey { return c.privateKey }

// Check verifica que el certificado pueda firmar en el instante now.
func (c *SigningCertificate) Check(now time.Time) error {
	if c == nil || c.Certificate == nil || c.privateKey == nil {
		return domain.ErrCertificateMalformed
	}
	if !c.Active {
		return domain.ErrCertificateInactive
	}
	if now.After(c.NotAfter) {
		return fmt.Errorf("%w: venció el %s", domain.ErrCertificateExpired, c.NotAfter.Format(time.RFC3339))
	}
	if now.Before(c.NotBefore) {
		return fmt.Errorf("%w: vigente desde %s", domain.ErrCertificateInactive, c.NotBefore.Format(time.RFC3339))
	}
	return nil
}

// String no incluye material de llave.
func (c *SigningCertificate) String() string {
	return fmt.Sprintf("SigningCertificate{id=%s issuer=%s subject=%q serial=%s notAfter=%s}",
		c.ID, c.IssuerID, c.SubjectName, c.SerialNumber, c.NotAfter.Format(time.RFC3339))
}

// MarshalZerologObject permite loguear el certificado con log.Object sin la llave.
func (c *SigningCertificate) MarshalZerologObject(e *zerolog.Event) {
	e.Str("certificate_id", c.ID).
		Str("issuer_id", c.IssuerID).
		Str("subject", c.SubjectName).
		Str("serial", c.SerialNumber).
		Time("not_after", c.NotAfter).
		Bool("active", c.Active)
}
