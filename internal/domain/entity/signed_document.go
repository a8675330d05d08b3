package entity

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/jhoicas/ecf-core/pkg/ecf"
)

// SignedDocument comprobante firmado. Inmutable una vez creado; los cambios de estado en la
// autoridad se registran aparte (TrackID y Status del resultado de emisión).
type SignedDocument struct {
	Document       FiscalDocument
	SignedXML      []byte
	SignatureValue string // Base64 del ds:SignatureValue
	SecurityCode   string // 6 caracteres hexadecimales en mayúscula
	SignedAt       time.Time
	CertificateID  string
}

// Filename nombre del archivo para el envío: {RNCEmisor}{eNCF}.xml
func (s *SignedDocument) Filename() string {
	return ecf.Filename(s.Document.IssuerTaxID, s.Document.ENCF)
}

// IssuanceResult resultado de la orquestación de emisión.
type IssuanceResult struct {
	ENCF         string
	TrackID      string // En contingencia es el número de contingencia provisional
	SecurityCode string
	SignedXML    []byte
	Status       ecf.SubmissionStatus
	Message      string // Mensaje de la autoridad tal cual (rechazos)
	TimbreURL    string
	SignedAt     time.Time
}

// IssuedDocument registro persistido de cada emisión para consultas posteriores de estado.
type IssuedDocument struct {
	ID           string
	IssuerID     string
	ENCF         string
	DocumentType ecf.DocumentType
	TrackID      string
	Status       ecf.SubmissionStatus
	Message      string
	SecurityCode string
	Total        decimal.Decimal
	SignedXML    []byte
	IssuedAt     time.Time
	UpdatedAt    time.Time
}
