// Package ecf implementa la parte de infraestructura del protocolo e-CF: serialización XML del
// comprobante, canonicalización y cliente HTTP de los servicios de la autoridad.
package ecf

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jhoicas/ecf-core/internal/domain/entity"
	"github.com/jhoicas/ecf-core/pkg/ecf"
)

// Versión del formato e-CF emitido.
const FormatVersion = "1.0"

// Formatos de fecha del protocolo (dd-MM-yyyy).
const (
	DateLayout     = "02-01-2006"
	DateTimeLayout = "02-01-2006 15:04:05"
)

// XMLBuilderService construye el XML del e-CF (sin firma).
type XMLBuilderService struct{}

// NewXMLBuilderService crea el servicio.
func NewXMLBuilderService() *XMLBuilderService {
	return &XMLBuilderService{}
}

// Build genera el documento <ECF>. El e-NCF ya debe estar asignado; signedAt se escribe en
// FechaHoraFirma y queda cubierto por la firma.
func (s *XMLBuilderService) Build(doc *entity.FiscalDocument, signedAt time.Time) ([]byte, error) {
	if doc == nil {
		return nil, fmt.Errorf("ecf: documento nulo")
	}
	if doc.ENCF == "" {
		return nil, fmt.Errorf("ecf: el documento no tiene e-NCF asignado")
	}
	var buf bytes.Buffer
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")

	root := xml.StartElement{Name: xml.Name{Local: "ECF"}}
	if err := enc.EncodeToken(root); err != nil {
		return nil, err
	}

	// ---- Encabezado
	openEl(enc, "Encabezado")
	writeEl(enc, "Version", FormatVersion)

	openEl(enc, "IdDoc")
	writeEl(enc, "TipoeCF", string(doc.Type))
	writeEl(enc, "eNCF", doc.ENCF)
	if !doc.SequenceExpiresOn.IsZero() {
		writeEl(enc, "FechaVencimientoSecuencia", doc.SequenceExpiresOn.Format(DateLayout))
	}
	writeEl(enc, "TotalPaginas", "1")
	closeEl(enc, "IdDoc")

	openEl(enc, "Emisor")
	writeEl(enc, "RNCEmisor", ecf.OnlyDigits(doc.IssuerTaxID))
	writeEl(enc, "RazonSocialEmisor", doc.IssuerName)
	if doc.IssuerAddress != "" {
		writeEl(enc, "DireccionEmisor", doc.IssuerAddress)
	}
	writeEl(enc, "FechaEmision", doc.IssueDate.Format(DateLayout))
	closeEl(enc, "Emisor")

	if doc.BuyerTaxID != "" || doc.BuyerName != "" {
		openEl(enc, "Comprador")
		if doc.BuyerTaxID != "" {
			writeEl(enc, "RNCComprador", ecf.OnlyDigits(doc.BuyerTaxID))
		}
		if doc.BuyerName != "" {
			writeEl(enc, "RazonSocialComprador", doc.BuyerName)
		}
		closeEl(enc, "Comprador")
	}

	openEl(enc, "Totales")
	writeAmount(enc, "MontoGravadoTotal", doc.TaxableTotal)
	writeAmount(enc, "MontoExento", doc.ExemptTotal)
	writeAmount(enc, "TotalITBIS", doc.ITBISTotal)
	writeAmount(enc, "MontoTotal", doc.GrandTotal)
	closeEl(enc, "Totales")
	closeEl(enc, "Encabezado")

	// ---- DetallesItems
	openEl(enc, "DetallesItems")
	for i, l := range doc.Lines {
		n := l.Number
		if n == 0 {
			n = i + 1
		}
		openEl(enc, "Item")
		writeEl(enc, "NumeroLinea", strconv.Itoa(n))
		writeEl(enc, "IndicadorFacturacion", billingIndicator(l.ITBISRate))
		writeEl(enc, "NombreItem", l.Description)
		writeEl(enc, "CantidadItem", l.Quantity.String())
		writeAmount(enc, "PrecioUnitarioItem", l.UnitPrice)
		writeAmount(enc, "MontoItem", l.Amount)
		closeEl(enc, "Item")
	}
	closeEl(enc, "DetallesItems")

	// ---- InformacionReferencia (notas de débito y crédito)
	if doc.ModifiedENCF != "" {
		openEl(enc, "InformacionReferencia")
		writeEl(enc, "NCFModificado", doc.ModifiedENCF)
		if !doc.ModifiedDate.IsZero() {
			writeEl(enc, "FechaNCFModificado", doc.ModifiedDate.Format(DateLayout))
		}
		if doc.ModificationCode != "" {
			writeEl(enc, "CodigoModificacion", doc.ModificationCode)
		}
		closeEl(enc, "InformacionReferencia")
	}

	writeEl(enc, "FechaHoraFirma", signedAt.Format(DateTimeLayout))

	if err := enc.EncodeToken(root.End()); err != nil {
		return nil, err
	}
	if err := enc.Flush(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// billingIndicator 1 = ITBIS 18%, 2 = ITBIS 16%, 4 = exento.
func billingIndicator(rate decimal.Decimal) string {
	switch {
	case rate.Equal(ecf.ITBISGeneral):
		return "1"
	case rate.Equal(ecf.ITBISReducida):
		return "2"
	default:
		return "4"
	}
}

func openEl(enc *xml.Encoder, local string) {
	_ = enc.EncodeToken(xml.StartElement{Name: xml.Name{Local: local}})
}

func closeEl(enc *xml.Encoder, local string) {
	_ = enc.EncodeToken(xml.EndElement{Name: xml.Name{Local: local}})
}

// newlines deja solo LF en el texto: un CR escapado como &#xD; cambiaría la forma canónica.
var newlines = strings.NewReplacer("\r\n", "\n", "\r", "\n")

func writeEl(enc *xml.Encoder, local, value string) {
	openEl(enc, local)
	_ = enc.EncodeToken(xml.CharData(newlines.Replace(value)))
	closeEl(enc, local)
}

func writeAmount(enc *xml.Encoder, local string, d decimal.Decimal) {
	writeEl(enc, local, formatDecimal(d))
}

func formatDecimal(d decimal.Decimal) string {
	return d.Round(2).StringFixed(2)
}
