// Package ecf contiene catálogos y validaciones del protocolo de comprobantes fiscales
// electrónicos (e-CF): tipos de documento, tasas de ITBIS, estados de la autoridad y
// formato del e-NCF.
package ecf

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// Tipos de e-CF (10 tipos legales)
// =============================================================================

// DocumentType código de dos dígitos del tipo de comprobante.
type DocumentType string

const (
	TypeCreditoFiscal       DocumentType = "31" // Factura de Crédito Fiscal Electrónica
	TypeConsumo             DocumentType = "32" // Factura de Consumo Electrónica
	TypeNotaDebito          DocumentType = "33" // Nota de Débito Electrónica
	TypeNotaCredito         DocumentType = "34" // Nota de Crédito Electrónica
	TypeCompras             DocumentType = "41" // Compras Electrónico
	TypeGastosMenores       DocumentType = "43" // Gastos Menores Electrónico
	TypeRegimenesEspeciales DocumentType = "44" // Regímenes Especiales Electrónico
	TypeGubernamental       DocumentType = "45" // Gubernamental Electrónico
	TypeExportaciones       DocumentType = "46" // Comprobante de Exportaciones Electrónico
	TypePagosExterior       DocumentType = "47" // Comprobante para Pagos al Exterior Electrónico
)

var documentTypeNames = map[DocumentType]string{
	TypeCreditoFiscal:       "Factura de Crédito Fiscal Electrónica",
	TypeConsumo:             "Factura de Consumo Electrónica",
	TypeNotaDebito:          "Nota de Débito Electrónica",
	TypeNotaCredito:         "Nota de Crédito Electrónica",
	TypeCompras:             "Compras Electrónico",
	TypeGastosMenores:       "Gastos Menores Electrónico",
	TypeRegimenesEspeciales: "Regímenes Especiales Electrónico",
	TypeGubernamental:       "Gubernamental Electrónico",
	TypeExportaciones:       "Exportaciones Electrónico",
	TypePagosExterior:       "Pagos al Exterior Electrónico",
}

// DocumentTypes lista los tipos en orden de código.
var DocumentTypes = []DocumentType{
	TypeCreditoFiscal, TypeConsumo, TypeNotaDebito, TypeNotaCredito, TypeCompras,
	TypeGastosMenores, TypeRegimenesEspeciales, TypeGubernamental, TypeExportaciones, TypePagosExterior,
}

// ParseDocumentType acepta "31" o "E31".
func ParseDocumentType(s string) (DocumentType, error) {
	s = strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(s)), "E")
	t := DocumentType(s)
	if _, ok := documentTypeNames[t]; !ok {
		return "", fmt.Errorf("ecf: tipo de comprobante desconocido %q", s)
	}
	return t, nil
}

// Valid indica si el tipo pertenece al catálogo.
func (t DocumentType) Valid() bool {
	_, ok := documentTypeNames[t]
	return ok
}

// Name nombre legal del tipo.
func (t DocumentType) Name() string { return documentTypeNames[t] }

// RequiresBuyerTaxID tipos donde el RNC/cédula del comprador es obligatorio.
func (t DocumentType) RequiresBuyerTaxID() bool {
	switch t {
	case TypeCreditoFiscal, TypeNotaDebito, TypeNotaCredito, TypeRegimenesEspeciales, TypeGubernamental:
		return true
	}
	return false
}

// RequiresReference notas de débito y crédito deben indicar el NCF modificado.
func (t DocumentType) RequiresReference() bool {
	return t == TypeNotaDebito || t == TypeNotaCredito
}

// =============================================================================
// Tasas de ITBIS
// =============================================================================

var (
	ITBISGeneral  = decimal.RequireFromString("0.18") // Tasa general
	ITBISReducida = decimal.RequireFromString("0.16") // Tasa reducida
	ITBISExento   = decimal.Zero
)

// ValidITBISRate indica si la tasa es una de las vigentes.
func ValidITBISRate(rate decimal.Decimal) bool {
	return rate.Equal(ITBISGeneral) || rate.Equal(ITBISReducida) || rate.IsZero()
}

// =============================================================================
// Estados de procesamiento en la autoridad
// =============================================================================

// SubmissionStatus estado de un e-CF en la autoridad (o local si está en contingencia).
type SubmissionStatus string

const (
	StatusReceived             SubmissionStatus = "received"
	StatusProcessing           SubmissionStatus = "processing"
	StatusAccepted             SubmissionStatus = "accepted"
	StatusConditionalAccepted  SubmissionStatus = "accepted-conditional"
	StatusRejected             SubmissionStatus = "rejected"
	StatusApprovedCommercially SubmissionStatus = "approved-commercially"
	StatusRejectedCommercially SubmissionStatus = "rejected-commercially"
	StatusVoided               SubmissionStatus = "voided"
	StatusContingency          SubmissionStatus = "contingency"
	StatusPendingContingency   SubmissionStatus = "pending-contingency"
)

// statusByCode códigos numéricos de la consulta de resultado.
var statusByCode = map[string]SubmissionStatus{
	"0": StatusReceived,
	"1": StatusAccepted,
	"2": StatusRejected,
	"3": StatusProcessing,
	"4": StatusConditionalAccepted,
	"5": StatusApprovedCommercially,
	"6": StatusRejectedCommercially,
	"7": StatusVoided,
	"8": StatusContingency,
}

// statusByName descripciones textuales (normalizadas a minúsculas, sin tildes).
var statusByName = map[string]SubmissionStatus{
	"recibido":             StatusReceived,
	"no encontrado":        StatusReceived,
	"en proceso":           StatusProcessing,
	"aceptado":             StatusAccepted,
	"aceptado condicional": StatusConditionalAccepted,
	"rechazado":            StatusRejected,
	"aprobacion comercial": StatusApprovedCommercially,
	"aprobado comercial":   StatusApprovedCommercially,
	"rechazo comercial":    StatusRejectedCommercially,
	"rechazado comercial":  StatusRejectedCommercially,
	"anulado":              StatusVoided,
	"contingencia":         StatusContingency,
}

// StatusFromCode traduce un código numérico o su descripción textual.
func StatusFromCode(code string) (SubmissionStatus, bool) {
	c := strings.TrimSpace(code)
	if s, ok := statusByCode[c]; ok {
		return s, true
	}
	s, ok := statusByName[foldSpanish(c)]
	return s, ok
}

// Final indica si el estado ya no cambiará por procesamiento de la autoridad.
func (s SubmissionStatus) Final() bool {
	switch s {
	case StatusAccepted, StatusConditionalAccepted, StatusRejected,
		StatusApprovedCommercially, StatusRejectedCommercially, StatusVoided:
		return true
	}
	return false
}

func foldSpanish(s string) string {
	r := strings.NewReplacer("á", "a", "é", "e", "í", "i", "ó", "o", "ú", "u", "Á", "a", "É", "e", "Í", "i", "Ó", "o", "Ú", "u")
	return strings.ToLower(r.Replace(s))
}
