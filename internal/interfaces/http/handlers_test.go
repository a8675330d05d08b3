package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/ecf-core/internal/application/billing"
	"github.com/jhoicas/ecf-core/internal/application/contingency"
	"github.com/jhoicas/ecf-core/internal/application/dto"
	"github.com/jhoicas/ecf-core/internal/application/sequence"
	"github.com/jhoicas/ecf-core/internal/domain/entity"
	ecfxml "github.com/jhoicas/ecf-core/internal/infrastructure/ecf"
	"github.com/jhoicas/ecf-core/internal/infrastructure/ecf/signer"
	"github.com/jhoicas/ecf-core/internal/infrastructure/memory"
	apphttp "github.com/jhoicas/ecf-core/internal/interfaces/http"
	"github.com/jhoicas/ecf-core/internal/testutil"
	pkgjwt "github.com/jhoicas/ecf-core/pkg/jwt"
	"github.com/jhoicas/ecf-core/pkg/ecf"
)

type api struct {
	app      *fiber.App
	vault    *signer.Vault
	signer   *signer.DigitalSignatureService
	registry *contingency.Registry
}

// newAPI arma el router completo sobre repositorios en memoria. La autoridad apunta a una
// dirección sin servicio: los tests no dependen de ella.
func newAPI(t *testing.T) *api {
	t.Helper()
	seqs := memory.NewSequenceRepo()
	docs := memory.NewDocumentRepo()
	store := sequence.NewStore(seqs, seqs, nil)
	vault := signer.NewVault(nil)
	sig := signer.NewDigitalSignatureService(nil)
	client := ecfxml.NewAuthorityClient(ecfxml.AuthorityClientConfig{BaseURL: "http://127.0.0.1:1", Timeout: 200 * time.Millisecond}, nil)
	sessions := ecfxml.NewSessions(client, vault, sig, time.Minute, nil)
	registry := contingency.NewRegistry(contingency.Options{
		Repo:        memory.NewContingencyRepo(),
		Resubmitter: billing.NewAuthorityResubmitter(sessions, client),
		Notifier:    billing.NewDocumentStatusNotifier(docs, nil),
		Policy:      contingency.Policy{MaxAttempts: 1, Backoff: contingency.BackoffFixed},
	})

	app := fiber.New()
	apphttp.Router(app, apphttp.RouterDeps{
		Issuance:    billing.NewIssuanceOrchestrator(vault, store, sig, sessions, client, registry, docs, ecf.EnvTest, nil),
		Status:      billing.NewStatusUseCase(docs, sessions, client, nil),
		Signer:      sig,
		Sequences:   store,
		Lookup:      sequence.LookupFunc(func(context.Context, string, string) (bool, error) { return false, nil }),
		Vault:       vault,
		Contingency: registry,
		JWTSecret:   testJWTSecret,
	})
	return &api{app: app, vault: vault, signer: sig, registry: registry}
}

func (a *api) do(t *testing.T, method, path, role string, body interface{}) (*http.Response, []byte) {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	if role != "" {
		tok, err := pkgjwt.Generate(testJWTSecret, testUserID, testutil.IssuerID, role, testIssuer, testExpMin)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	resp, err := a.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, out
}

func sequenceRequest(start, end string) dto.SequenceRequest {
	return dto.SequenceRequest{
		DocumentType: "31",
		Prefix:       "E31",
		RangeStart:   start,
		RangeEnd:     end,
		ExpiresOn:    time.Now().AddDate(1, 0, 0).Format("2006-01-02"),
	}
}

func TestSequences_RegistroListadoYSolapamiento(t *testing.T) {
	a := newAPI(t)

	resp, body := a.do(t, http.MethodPost, "/api/sequences", apphttp.RoleAdmin, sequenceRequest("00000001", "00000100"))
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var created dto.SequenceResponse
	require.NoError(t, json.Unmarshal(body, &created))
	assert.Equal(t, "active", created.State)
	assert.Equal(t, "E3100000001", created.Next)

	resp, body = a.do(t, http.MethodPost, "/api/sequences", apphttp.RoleAdmin, sequenceRequest("00000050", "00000200"))
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Contains(t, string(body), "SEQUENCE_OVERLAP")

	resp, body = a.do(t, http.MethodPost, "/api/sequences", apphttp.RoleAdmin, sequenceRequest("1", "00000200"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(body), "SEQUENCE_FORMAT")

	resp, body = a.do(t, http.MethodGet, "/api/sequences", apphttp.RoleAdmin, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []dto.SequenceResponse
	require.NoError(t, json.Unmarshal(body, &list))
	assert.Len(t, list, 1)
}

func TestSequences_SoloAdmin(t *testing.T) {
	a := newAPI(t)
	resp, _ := a.do(t, http.MethodGet, "/api/sequences", apphttp.RoleBiller, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = a.do(t, http.MethodGet, "/api/sequences", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCertificates_CargaYContrasenaIncorrecta(t *testing.T) {
	a := newAPI(t)
	bundle := testutil.LegacyP12(t, testutil.Certificate(t, testutil.CertOptions{}), "secreto")

	resp, body := a.do(t, http.MethodPost, "/api/certificates", apphttp.RoleAdmin, dto.CertificateUploadRequest{Bundle: bundle, Password: "otra"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(body), "CERTIFICATE_PASSWORD")

	resp, body = a.do(t, http.MethodPost, "/api/certificates", apphttp.RoleAdmin, dto.CertificateUploadRequest{Bundle: bundle, Password: "secreto"})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var cert dto.CertificateResponse
	require.NoError(t, json.Unmarshal(body, &cert))
	assert.True(t, cert.Active)
	assert.NotContains(t, string(body), "PRIVATE KEY")

	resp, _ = a.do(t, http.MethodDelete, "/api/certificates/"+cert.ID, apphttp.RoleAdmin, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	_, err := a.vault.Active(testutil.IssuerID)
	assert.Error(t, err)
}

func TestDocuments_SinCertificado(t *testing.T) {
	a := newAPI(t)
	resp, body := a.do(t, http.MethodPost, "/api/documents", apphttp.RoleBiller, issueRequest())
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, string(body), "CERTIFICATE_NOT_FOUND")
}

func TestDocuments_EmisionEnContingencia(t *testing.T) {
	a := newAPI(t)
	ctx := context.Background()
	_, err := a.vault.Load(testutil.IssuerID, testutil.LegacyP12(t, testutil.Certificate(t, testutil.CertOptions{}), "pw"), "pw")
	require.NoError(t, err)
	resp, body := a.do(t, http.MethodPost, "/api/sequences", apphttp.RoleAdmin, sequenceRequest("00000001", "00000010"))
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	_, err = a.registry.Queue(testutil.IssuerID).Activate(ctx, entity.EventNetworkFailure, "sin red")
	require.NoError(t, err)

	resp, body = a.do(t, http.MethodPost, "/api/documents", apphttp.RoleBiller, issueRequest())
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var res dto.IssuanceResponse
	require.NoError(t, json.Unmarshal(body, &res))
	assert.Equal(t, "E3100000001", res.ENCF)
	assert.Equal(t, "pending-contingency", res.Status)
	assert.Equal(t, "CTG00000001", res.TrackID)

	resp, body = a.do(t, http.MethodGet, "/api/documents/E3100000001/status", apphttp.RoleBiller, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Contains(t, string(body), "pending-contingency")

	// Verificación pública del XML devuelto.
	req := httptest.NewRequest(http.MethodPost, "/api/documents/verify", bytes.NewReader(res.SignedXML))
	req.Header.Set("Content-Type", "application/xml")
	vresp, err := a.app.Test(req, -1)
	require.NoError(t, err)
	var verify dto.VerifyResponse
	require.NoError(t, json.NewDecoder(vresp.Body).Decode(&verify))
	assert.True(t, verify.Valid)
	assert.Equal(t, res.SecurityCode, verify.SecurityCode)
}

func TestDocuments_VerifyXMLInvalido(t *testing.T) {
	a := newAPI(t)
	req := httptest.NewRequest(http.MethodPost, "/api/documents/verify", bytes.NewReader([]byte("<ECF>")))
	resp, err := a.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var verify dto.VerifyResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&verify))
	assert.False(t, verify.Valid)
}

func TestDocuments_CuerpoInvalido(t *testing.T) {
	a := newAPI(t)
	in := issueRequest()
	in.Type = "99"
	resp, body := a.do(t, http.MethodPost, "/api/documents", apphttp.RoleBiller, in)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(body), "VALIDATION")
}

func TestContingency_ActivarDesactivarYBitacora(t *testing.T) {
	a := newAPI(t)

	resp, body := a.do(t, http.MethodPost, "/api/contingency/activate", apphttp.RoleOperator,
		dto.ActivateContingencyRequest{Kind: "authority_unavailable", Description: "mantenimiento"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var st dto.ContingencyStatusResponse
	require.NoError(t, json.Unmarshal(body, &st))
	assert.True(t, st.Active)
	assert.Equal(t, "authority_unavailable", st.Kind)
	require.NotNil(t, st.Since)

	resp, _ = a.do(t, http.MethodPost, "/api/contingency/drain", apphttp.RoleOperator, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body = a.do(t, http.MethodPost, "/api/contingency/activate", apphttp.RoleOperator,
		dto.ActivateContingencyRequest{Kind: "otro"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, string(body))

	resp, body = a.do(t, http.MethodPost, "/api/contingency/deactivate", apphttp.RoleOperator, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &st))
	assert.False(t, st.Active)

	resp, body = a.do(t, http.MethodGet, "/api/contingency/events", apphttp.RoleAdmin, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var events []dto.ContingencyEventResponse
	require.NoError(t, json.Unmarshal(body, &events))
	require.Len(t, events, 1)
	assert.True(t, events[0].Resolved)

	resp, _ = a.do(t, http.MethodGet, "/api/contingency", apphttp.RoleBiller, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func issueRequest() dto.IssueDocumentRequest {
	doc := testutil.SampleDocument()
	in := dto.IssueDocumentRequest{
		Type:         string(doc.Type),
		IssueDate:    doc.IssueDate.Format("2006-01-02"),
		IssuerTaxID:  doc.IssuerTaxID,
		IssuerName:   doc.IssuerName,
		BuyerTaxID:   doc.BuyerTaxID,
		BuyerName:    doc.BuyerName,
		TaxableTotal: doc.TaxableTotal,
		ExemptTotal:  doc.ExemptTotal,
		ITBISTotal:   doc.ITBISTotal,
		GrandTotal:   doc.GrandTotal,
	}
	for _, l := range doc.Lines {
		in.Lines = append(in.Lines, dto.DocumentLineRequest{
			Description: l.Description,
			Quantity:    l.Quantity,
			UnitPrice:   l.UnitPrice,
			ITBISRate:   l.ITBISRate,
			Amount:      l.Amount,
		})
	}
	return in
}
