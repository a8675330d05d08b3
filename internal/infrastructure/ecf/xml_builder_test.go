package ecf_test

import (
	"testing"
	"time"

	"github.com/beevik/etree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ecfxml "github.com/jhoicas/ecf-core/internal/infrastructure/ecf"
	"github.com/jhoicas/ecf-core/internal/testutil"
)

func TestBuild_EstructuraDelComprobante(t *testing.T) {
	signedAt := time.Date(2026, 3, 1, 10, 30, 15, 0, time.UTC)
	raw, err := ecfxml.NewXMLBuilderService().Build(docWithNumber(), signedAt)
	require.NoError(t, err)

	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromBytes(raw))
	root := doc.Root()
	require.Equal(t, "ECF", root.Tag)

	text := func(path string) string {
		el := root.FindElement(path)
		require.NotNil(t, el, path)
		return el.Text()
	}
	assert.Equal(t, "31", text("./Encabezado/IdDoc/TipoeCF"))
	assert.Equal(t, "E3100000001", text("./Encabezado/IdDoc/eNCF"))
	assert.Equal(t, "31-12-2027", text("./Encabezado/IdDoc/FechaVencimientoSecuencia"))
	assert.Equal(t, testutil.IssuerTaxID, text("./Encabezado/Emisor/RNCEmisor"))
	assert.Equal(t, "01-03-2026", text("./Encabezado/Emisor/FechaEmision"))
	assert.Equal(t, testutil.BuyerTaxID, text("./Encabezado/Comprador/RNCComprador"))
	assert.Equal(t, "1230.00", text("./Encabezado/Totales/MontoTotal"))
	assert.Equal(t, "180.00", text("./Encabezado/Totales/TotalITBIS"))
	assert.Equal(t, "01-03-2026 10:30:15", text("./FechaHoraFirma"))

	items := root.FindElements("./DetallesItems/Item")
	require.Len(t, items, 2)
	assert.Equal(t, "1", items[0].FindElement("./IndicadorFacturacion").Text())
	assert.Equal(t, "4", items[1].FindElement("./IndicadorFacturacion").Text())
	assert.Nil(t, root.FindElement("./InformacionReferencia"))
}

func TestBuild_NotaDeCreditoIncluyeReferencia(t *testing.T) {
	d := docWithNumber()
	d.ModifiedENCF = "E3100000005"
	d.ModifiedDate = time.Date(2026, 2, 20, 0, 0, 0, 0, time.UTC)
	d.ModificationCode = "3"

	raw, err := ecfxml.NewXMLBuilderService().Build(d, time.Now())
	require.NoError(t, err)
	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromBytes(raw))
	ref := doc.Root().FindElement("./InformacionReferencia")
	require.NotNil(t, ref)
	assert.Equal(t, "E3100000005", ref.FindElement("./NCFModificado").Text())
	assert.Equal(t, "20-02-2026", ref.FindElement("./FechaNCFModificado").Text())
}

func TestBuild_EscapaTexto(t *testing.T) {
	d := docWithNumber()
	d.BuyerName = "Pérez & Hijos <SRL>"
	raw, err := ecfxml.NewXMLBuilderService().Build(d, time.Now())
	require.NoError(t, err)

	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromBytes(raw))
	assert.Equal(t, "Pérez & Hijos <SRL>", doc.Root().FindElement("./Encabezado/Comprador/RazonSocialComprador").Text())
}

func TestBuild_TextoSinRetornoDeCarro(t *testing.T) {
	d := docWithNumber()
	d.Lines[0].Description = "a\r\nb\rc"
	raw, err := ecfxml.NewXMLBuilderService().Build(d, time.Now())
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "&#xD;")
	assert.NotContains(t, string(raw), "\r")

	canon, err := ecfxml.Canonicalize(raw)
	require.NoError(t, err)
	assert.Contains(t, string(canon), "<NombreItem>a\nb\nc</NombreItem>")
}

func TestBuild_SinNumeroAsignado(t *testing.T) {
	d := testutil.SampleDocument()
	_, err := ecfxml.NewXMLBuilderService().Build(&d, time.Now())
	assert.Error(t, err)
	_, err = ecfxml.NewXMLBuilderService().Build(nil, time.Now())
	assert.Error(t, err)
}
