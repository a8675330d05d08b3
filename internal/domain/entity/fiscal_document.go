package entity

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/jhoicas/ecf-core/pkg/ecf"
)

// FiscalDocument representa la cabecera de un comprobante fiscal electrónico (e-CF).
// ENCF queda vacío hasta que el asignador de secuencias entrega un número.
type FiscalDocument struct {
	ID                string
	IssuerID          string
	Type              ecf.DocumentType
	ENCF              string
	SequenceExpiresOn time.Time // FechaVencimientoSecuencia de la secuencia usada
	IssueDate         time.Time

	IssuerTaxID   string // RNC del emisor
	IssuerName    string // Razón social
	IssuerAddress string
	BuyerTaxID    string // RNC o cédula del comprador (obligatorio según el tipo)
	BuyerName     string

	// Referencia al comprobante modificado (notas de débito y crédito).
	ModifiedENCF     string
	ModifiedDate     time.Time
	ModificationCode string // 1 anula, 2 corrige texto, 3 corrige montos, 4 reemplazo en contingencia

	Lines []DocumentLine

	TaxableTotal decimal.Decimal // MontoGravadoTotal
	ExemptTotal  decimal.Decimal // MontoExento
	ITBISTotal   decimal.Decimal // TotalITBIS
	GrandTotal   decimal.Decimal // MontoTotal

	CreatedAt time.Time
}

// DocumentLine representa una línea de detalle del comprobante.
// Amount = Quantity * UnitPrice; el ITBIS de la línea es Amount * ITBISRate.
type DocumentLine struct {
	Number      int
	Description string
	Quantity    decimal.Decimal
	UnitPrice   decimal.Decimal
	ITBISRate   decimal.Decimal
	Amount      decimal.Decimal
}

// LineITBIS impuesto de la línea redondeado a 2 decimales.
func (l DocumentLine) LineITBIS() decimal.Decimal {
	return l.Amount.Mul(l.ITBISRate).Round(2)
}

// IsConsumer comprobante de consumo (timbre simplificado).
func (d *FiscalDocument) IsConsumer() bool { return d.Type == ecf.TypeConsumo }

// WithNumber copia del documento con el e-NCF asignado.
func (d FiscalDocument) WithNumber(a Allocation) FiscalDocument {
	d.ENCF = a.ENCF()
	d.SequenceExpiresOn = a.ExpiresOn
	return d.Clone()
}

// Clone copia independiente (las líneas no se comparten).
func (d FiscalDocument) Clone() FiscalDocument {
	lines := make([]DocumentLine, len(d.Lines))
	copy(lines, d.Lines)
	d.Lines = lines
	return d
}
