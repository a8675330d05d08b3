package ecf

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// SequenceDigits cantidad de dígitos de los límites y del cursor de una secuencia.
const SequenceDigits = 8

// MaxSequenceNumber mayor número representable con SequenceDigits.
const MaxSequenceNumber uint64 = 99_999_999

var (
	prefixPattern   = regexp.MustCompile(`^[A-Za-z0-9]{1,3}$`)
	sequencePattern = regexp.MustCompile(`^[0-9]{8}$`)
)

// ValidatePrefix el prefijo debe tener de 1 a 3 caracteres alfanuméricos.
func ValidatePrefix(prefix string) error {
	if !prefixPattern.MatchString(prefix) {
		return fmt.Errorf("ecf: prefijo %q inválido (1-3 caracteres alfanuméricos)", prefix)
	}
	return nil
}

// ParseSequenceNumber interpreta un límite de rango: exactamente 8 dígitos ("00000001").
func ParseSequenceNumber(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if !sequencePattern.MatchString(s) {
		return 0, fmt.Errorf("ecf: %q no es un número de secuencia de %d dígitos", s, SequenceDigits)
	}
	var n uint64
	for _, r := range s {
		n = n*10 + uint64(r-'0')
	}
	return n, nil
}

// FormatSequenceNumber rellena con ceros a 8 dígitos.
func FormatSequenceNumber(n uint64) string {
	return fmt.Sprintf("%0*d", SequenceDigits, n)
}

// FormatNCF compone el e-NCF: prefijo + número de 8 dígitos (ej: E3100000001).
func FormatNCF(prefix string, n uint64) string {
	return strings.ToUpper(prefix) + FormatSequenceNumber(n)
}

// Filename nombre del archivo XML exigido por la autoridad: {RNCEmisor}{eNCF}.xml
func Filename(issuerTaxID, encf string) string {
	return OnlyDigits(issuerTaxID) + strings.TrimSpace(encf) + ".xml"
}

// =============================================================================
// Ambientes de la autoridad
// =============================================================================

// Environment segmento de ruta del ambiente de la autoridad.
type Environment string

const (
	EnvTest          Environment = "testecf" // Pre-certificación
	EnvCertification Environment = "certecf" // Certificación
	EnvProduction    Environment = "ecf"     // Producción
)

const authorityHost = "https://ecf.dgii.gov.do"

// ParseEnvironment acepta los alias "test", "cert", "prod" además de los segmentos oficiales.
func ParseEnvironment(s string) (Environment, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "testecf", "test", "":
		return EnvTest, nil
	case "certecf", "cert":
		return EnvCertification, nil
	case "ecf", "prod":
		return EnvProduction, nil
	}
	return "", fmt.Errorf("ecf: ambiente desconocido %q (usar test|cert|prod)", s)
}

// BaseURL raíz de los servicios del ambiente.
func (e Environment) BaseURL() string {
	return authorityHost + "/" + string(e)
}

// =============================================================================
// Timbre (URL de verificación que se imprime como QR en la representación impresa)
// =============================================================================

// ConsumerSummaryThreshold monto desde el cual una factura de consumo se envía completa y usa
// el timbre estándar.
var ConsumerSummaryThreshold = decimal.NewFromInt(250000)

// TimbreParams datos que viajan en la URL del timbre.
type TimbreParams struct {
	IssuerTaxID  string
	BuyerTaxID   string
	ENCF         string
	IssueDate    time.Time
	Total        decimal.Decimal
	SignedAt     time.Time
	SecurityCode string
	// Consumer facturas de consumo bajo el umbral usan la consulta simplificada.
	Consumer bool
}

// TimbreURL construye la URL de consulta del timbre para el ambiente dado.
func TimbreURL(env Environment, p TimbreParams) string {
	q := url.Values{}
	q.Set("RncEmisor", OnlyDigits(p.IssuerTaxID))
	if p.Consumer {
		q.Set("ENCF", p.ENCF)
		q.Set("MontoTotal", p.Total.StringFixed(2))
		q.Set("CodigoSeguridad", p.SecurityCode)
		return env.BaseURL() + "/consultatimbrefc?" + q.Encode()
	}
	if p.BuyerTaxID != "" {
		q.Set("RncComprador", OnlyDigits(p.BuyerTaxID))
	}
	q.Set("ENCF", p.ENCF)
	q.Set("FechaEmision", p.IssueDate.Format("02-01-2006"))
	q.Set("MontoTotal", p.Total.StringFixed(2))
	q.Set("FechaFirma", p.SignedAt.Format("02-01-2006 15:04:05"))
	q.Set("CodigoSeguridad", p.SecurityCode)
	return env.BaseURL() + "/consultatimbre?" + q.Encode()
}
