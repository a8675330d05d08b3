package ecf

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jhoicas/ecf-core/internal/domain"
	"github.com/jhoicas/ecf-core/internal/domain/entity"
	"github.com/jhoicas/ecf-core/pkg/ecf"
)

// ValidateDocument valida el comprobante antes de asignar número y firmar.
// Comprueba tipo, identificaciones fiscales, referencia de notas, tasas de ITBIS y que los
// totales coincidan con la suma de las líneas. Todos los errores se devuelven juntos y
// envuelven domain.ErrValidation.
func ValidateDocument(doc *entity.FiscalDocument, now time.Time) error {
	if doc == nil {
		return fmt.Errorf("%w: documento nulo", domain.ErrValidation)
	}
	var errs []error

	if !doc.Type.Valid() {
		errs = append(errs, fmt.Errorf("tipo de comprobante %q desconocido", doc.Type))
	}
	if err := ecf.ValidateRNC(doc.IssuerTaxID); err != nil {
		errs = append(errs, fmt.Errorf("emisor: %w", err))
	}
	if doc.IssuerName == "" {
		errs = append(errs, errors.New("emisor: razón social requerida"))
	}
	if doc.BuyerTaxID != "" {
		if err := ecf.ValidateTaxID(doc.BuyerTaxID); err != nil {
			errs = append(errs, fmt.Errorf("comprador: %w", err))
		}
	} else if doc.Type.RequiresBuyerTaxID() {
		errs = append(errs, fmt.Errorf("comprador: RNC o cédula obligatorio para el tipo %s", doc.Type))
	}
	if doc.Type.RequiresReference() && doc.ModifiedENCF == "" {
		errs = append(errs, errors.New("nota: debe indicar el e-NCF modificado"))
	}
	if doc.IssueDate.IsZero() {
		errs = append(errs, errors.New("fecha de emisión requerida"))
	} else if doc.IssueDate.After(now.Add(24 * time.Hour)) {
		errs = append(errs, errors.New("fecha de emisión en el futuro"))
	}

	if len(doc.Lines) == 0 {
		errs = append(errs, errors.New("el comprobante debe tener al menos una línea"))
	} else {
		errs = append(errs, validateTotals(doc)...)
	}

	if len(errs) > 0 {
		return errors.Join(append([]error{domain.ErrValidation}, errs...)...)
	}
	return nil
}

func validateTotals(doc *entity.FiscalDocument) []error {
	var errs []error
	var taxable, exempt, itbis decimal.Decimal
	for i, l := range doc.Lines {
		if !l.Quantity.IsPositive() {
			errs = append(errs, fmt.Errorf("línea %d: cantidad debe ser mayor que cero", i+1))
		}
		if l.UnitPrice.IsNegative() {
			errs = append(errs, fmt.Errorf("línea %d: precio unitario negativo", i+1))
		}
		if !ecf.ValidITBISRate(l.ITBISRate) {
			errs = append(errs, fmt.Errorf("línea %d: tasa de ITBIS %s no vigente", i+1, l.ITBISRate.String()))
		}
		expected := l.Quantity.Mul(l.UnitPrice).Round(2)
		if !l.Amount.Equal(expected) {
			errs = append(errs, fmt.Errorf("línea %d: monto (%s) no coincide con cantidad x precio (%s)", i+1, l.Amount.String(), expected.String()))
		}
		if l.ITBISRate.IsZero() {
			exempt = exempt.Add(l.Amount)
		} else {
			taxable = taxable.Add(l.Amount)
			itbis = itbis.Add(l.LineITBIS())
		}
	}
	if !doc.TaxableTotal.Equal(taxable.Round(2)) {
		errs = append(errs, fmt.Errorf("monto gravado (%s) no coincide con la suma de líneas gravadas (%s)", doc.TaxableTotal.String(), taxable.Round(2).String()))
	}
	if !doc.ExemptTotal.Equal(exempt.Round(2)) {
		errs = append(errs, fmt.Errorf("monto exento (%s) no coincide con la suma de líneas exentas (%s)", doc.ExemptTotal.String(), exempt.Round(2).String()))
	}
	if !doc.ITBISTotal.Equal(itbis) {
		errs = append(errs, fmt.Errorf("total ITBIS (%s) no coincide con la suma por líneas (%s)", doc.ITBISTotal.String(), itbis.String()))
	}
	expectedGrand := taxable.Add(exempt).Add(itbis).Round(2)
	if !doc.GrandTotal.Equal(expectedGrand) {
		errs = append(errs, fmt.Errorf("monto total (%s) no coincide con gravado + exento + ITBIS (%s)", doc.GrandTotal.String(), expectedGrand.String()))
	}
	return errs
}
