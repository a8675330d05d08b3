package ecf_test

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/ecf-core/internal/domain"
	"github.com/jhoicas/ecf-core/internal/domain/ecf"
	"github.com/jhoicas/ecf-core/internal/testutil"
	pkgecf "github.com/jhoicas/ecf-core/pkg/ecf"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// SHA-256("ABC") = b5d4045c3f466fa91fe2cc6abe79232a1a57cdf104f7a26e716e0a1e2789df78
func TestSecurityCode_VectorConocido(t *testing.T) {
	code, err := ecf.SecurityCode("ABC")
	require.NoError(t, err)
	assert.Equal(t, "B5D404", code)

	again, _ := ecf.SecurityCode("ABC")
	assert.Equal(t, code, again, "debe ser determinístico")

	_, err = ecf.SecurityCode("  ")
	assert.Error(t, err)
}

func TestValidateDocument_DocumentoValido(t *testing.T) {
	doc := testutil.SampleDocument()
	assert.NoError(t, ecf.ValidateDocument(&doc, now))
}

func TestValidateDocument_TotalesIncoherentes(t *testing.T) {
	doc := testutil.SampleDocument()
	doc.GrandTotal = decimal.RequireFromString("1231.00")
	doc.ITBISTotal = decimal.RequireFromString("179.99")

	err := ecf.ValidateDocument(&doc, now)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrValidation))
	assert.Contains(t, err.Error(), "monto total")
	assert.Contains(t, err.Error(), "total ITBIS")
}

func TestValidateDocument_SinLineas(t *testing.T) {
	doc := testutil.SampleDocument()
	doc.Lines = nil
	err := ecf.ValidateDocument(&doc, now)
	require.ErrorIs(t, err, domain.ErrValidation)
	assert.Contains(t, err.Error(), "al menos una línea")
}

func TestValidateDocument_CompradorObligatorioEnCreditoFiscal(t *testing.T) {
	doc := testutil.SampleDocument()
	doc.BuyerTaxID = ""
	require.ErrorIs(t, ecf.ValidateDocument(&doc, now), domain.ErrValidation)

	// En consumo el comprador es opcional.
	doc.Type = pkgecf.TypeConsumo
	assert.NoError(t, ecf.ValidateDocument(&doc, now))
}

func TestValidateDocument_NotaCreditoRequiereReferencia(t *testing.T) {
	doc := testutil.SampleDocument()
	doc.Type = pkgecf.TypeNotaCredito
	err := ecf.ValidateDocument(&doc, now)
	require.ErrorIs(t, err, domain.ErrValidation)

	doc.ModifiedENCF = "E3100000001"
	doc.ModificationCode = "3"
	assert.NoError(t, ecf.ValidateDocument(&doc, now))
}

func TestValidateDocument_TasaITBISNoVigente(t *testing.T) {
	doc := testutil.SampleDocument()
	doc.Lines[0].ITBISRate = decimal.RequireFromString("0.19")
	err := ecf.ValidateDocument(&doc, now)
	require.ErrorIs(t, err, domain.ErrValidation)
	assert.Contains(t, err.Error(), "tasa de ITBIS")
}

func TestValidateDocument_RNCEmisorInvalido(t *testing.T) {
	doc := testutil.SampleDocument()
	doc.IssuerTaxID = "131000915"
	require.ErrorIs(t, ecf.ValidateDocument(&doc, now), domain.ErrValidation)
}
