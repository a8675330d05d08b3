// Package testutil reúne fixtures compartidas por los tests: documentos de ejemplo y
// certificados autofirmados.
package testutil

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/jhoicas/ecf-core/internal/domain/entity"
	"github.com/jhoicas/ecf-core/pkg/ecf"
)

const (
	IssuerID    = "issuer-1"
	IssuerTaxID = "131000916"
	BuyerTaxID  = "00100000009"
)

// SampleDocument factura de crédito fiscal coherente: una línea gravada al 18% y una exenta.
//
//	2 x 500.00 = 1000.00 (ITBIS 180.00) + 1 x 50.00 exento = 1230.00
func SampleDocument() entity.FiscalDocument {
	d := decimal.RequireFromString
	return entity.FiscalDocument{
		IssuerID:    IssuerID,
		Type:        ecf.TypeCreditoFiscal,
		IssueDate:   time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		IssuerTaxID: IssuerTaxID,
		IssuerName:  "Comercial Ejemplo SRL",
		BuyerTaxID:  BuyerTaxID,
		BuyerName:   "Juan Pérez",
		Lines: []entity.DocumentLine{
			{Number: 1, Description: "Servicio de consultoría", Quantity: d("2"), UnitPrice: d("500.00"), ITBISRate: ecf.ITBISGeneral, Amount: d("1000.00")},
			{Number: 2, Description: "Libro de texto", Quantity: d("1"), UnitPrice: d("50.00"), ITBISRate: ecf.ITBISExento, Amount: d("50.00")},
		},
		TaxableTotal: d("1000.00"),
		ExemptTotal:  d("50.00"),
		ITBISTotal:   d("180.00"),
		GrandTotal:   d("1230.00"),
	}
}

// SampleSequence secuencia E31 00000001-00000010 que vence dentro de un año desde now.
func SampleSequence(now time.Time) *entity.NcfSequence {
	return &entity.NcfSequence{
		IssuerID:     IssuerID,
		DocumentType: ecf.TypeCreditoFiscal,
		Prefix:       "E31",
		RangeStart:   1,
		RangeEnd:     10,
		Cursor:       1,
		ExpiresOn:    now.AddDate(1, 0, 0),
	}
}
