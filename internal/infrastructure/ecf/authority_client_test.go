package ecf_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/ecf-core/internal/domain"
	ecfxml "github.com/jhoicas/ecf-core/internal/infrastructure/ecf"
	"github.com/jhoicas/ecf-core/internal/infrastructure/ecf/signer"
	"github.com/jhoicas/ecf-core/internal/testutil"
	"github.com/jhoicas/ecf-core/pkg/ecf"
)

const seedXML = `<?xml version="1.0" encoding="utf-8"?><SemillaModel><valor>c2VtaWxsYQ==</valor><fecha>2026-03-01T10:00:00</fecha></SemillaModel>`

func newClient(t *testing.T, h http.Handler) (*ecfxml.AuthorityClient, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c := ecfxml.NewAuthorityClient(ecfxml.AuthorityClientConfig{BaseURL: srv.URL, Timeout: 2 * time.Second}, nil)
	return c, srv
}

func validToken() *ecfxml.Token {
	return &ecfxml.Token{Value: "tok", ExpiresAt: time.Now().Add(time.Hour)}
}

func TestFetchSeed(t *testing.T) {
	c, _ := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/autenticacion/api/autenticacion/semilla", r.URL.Path)
		w.Header().Set("Content-Type", "application/xml")
		_, _ = io.WriteString(w, seedXML)
	}))

	seed, err := c.FetchSeed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "c2VtaWxsYQ==", seed.Value)
	assert.Equal(t, seedXML, string(seed.Raw))
}

func TestFetchSeed_RespuestaNoInterpretable(t *testing.T) {
	c, _ := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "<html>mantenimiento</html>")
	}))

	_, err := c.FetchSeed(context.Background())
	assert.True(t, errors.Is(err, domain.ErrParse))
}

func TestAuthenticate_EnviaMultipartYLeeVencimiento(t *testing.T) {
	c, _ := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		f, hdr, err := r.FormFile("xml")
		if !assert.NoError(t, err) {
			return
		}
		body, _ := io.ReadAll(f)
		assert.Equal(t, "semilla.xml", hdr.Filename)
		assert.Equal(t, "<firmada/>", string(body))
		_, _ = io.WriteString(w, `{"token":"abc","expedido":"2026-03-01T10:00:00","expira":"2026-03-01T11:00:00"}`)
	}))

	tok, err := c.Authenticate(context.Background(), []byte("<firmada/>"))
	require.NoError(t, err)
	assert.Equal(t, "abc", tok.Value)
	assert.Equal(t, time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC), tok.ExpiresAt)
}

func TestAuthenticate_Rechazada(t *testing.T) {
	c, _ := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))

	_, err := c.Authenticate(context.Background(), []byte("<x/>"))
	assert.True(t, errors.Is(err, domain.ErrAuthorityRejected))
	assert.False(t, domain.IsRetryable(err))
}

func TestSubmit_Acuse(t *testing.T) {
	c, _ := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/recepcion/api/facturaselectronicas", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		_, hdr, err := r.FormFile("xml")
		if !assert.NoError(t, err) {
			return
		}
		assert.Equal(t, "131000916E3100000001.xml", hdr.Filename)
		_, _ = io.WriteString(w, `{"trackId":"d3f1-77"}`)
	}))

	res, err := c.Submit(context.Background(), []byte("<ECF/>"), "131000916E3100000001.xml", validToken())
	require.NoError(t, err)
	assert.Equal(t, "d3f1-77", res.TrackID)
}

func TestSubmit_503EsReintentable(t *testing.T) {
	c, _ := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	_, err := c.Submit(context.Background(), []byte("<ECF/>"), "f.xml", validToken())
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrAuthorityUnavailable))
	assert.True(t, domain.IsRetryable(err))

	var aerr *domain.AuthorityError
	require.True(t, errors.As(err, &aerr))
	assert.Equal(t, http.StatusServiceUnavailable, aerr.StatusCode)
}

func TestSubmit_400EsTerminalConMensajesLiterales(t *testing.T) {
	c, _ := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"mensajes":[{"codigo":"145","valor":"El RNC del comprador no es válido"},"Monto total incorrecto"]}`)
	}))

	_, err := c.Submit(context.Background(), []byte("<ECF/>"), "f.xml", validToken())
	assert.True(t, errors.Is(err, domain.ErrAuthorityRejected))
	assert.False(t, domain.IsRetryable(err))
	assert.Equal(t, "145: El RNC del comprador no es válido; Monto total incorrecto", domain.RejectionMessage(err))
}

func TestSubmit_TokenVencidoNoHaceIO(t *testing.T) {
	var hits int32
	c, _ := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))

	expired := &ecfxml.Token{Value: "tok", ExpiresAt: time.Now().Add(-time.Minute)}
	_, err := c.Submit(context.Background(), []byte("<ECF/>"), "f.xml", expired)
	assert.True(t, errors.Is(err, domain.ErrTokenExpired))
	_, err = c.QueryStatus(context.Background(), "t1", nil)
	assert.True(t, errors.Is(err, domain.ErrTokenExpired))
	assert.Equal(t, int32(0), atomic.LoadInt32(&hits))
}

func TestSubmit_TimeoutEsReintentable(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)
	c := ecfxml.NewAuthorityClient(ecfxml.AuthorityClientConfig{BaseURL: srv.URL, Timeout: 50 * time.Millisecond}, nil)

	_, err := c.Submit(context.Background(), []byte("<ECF/>"), "f.xml", validToken())
	assert.True(t, errors.Is(err, domain.ErrTimeout), "%v", err)
	assert.True(t, domain.IsRetryable(err))
}

func TestSubmit_ErrorDeRed(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	c := ecfxml.NewAuthorityClient(ecfxml.AuthorityClientConfig{BaseURL: url, Timeout: time.Second}, nil)

	_, err := c.Submit(context.Background(), []byte("<ECF/>"), "f.xml", validToken())
	assert.True(t, errors.Is(err, domain.ErrNetwork), "%v", err)
	assert.True(t, domain.IsRetryable(err))
}

func TestQueryStatus_CodigoNumericoYTextual(t *testing.T) {
	c, _ := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("trackid") {
		case "ok":
			_, _ = io.WriteString(w, `{"trackId":"ok","codigo":1,"estado":"Aceptado","encf":"E3100000001","mensajes":[]}`)
		case "bad":
			_, _ = io.WriteString(w, `{"trackId":"bad","codigo":"2","estado":"Rechazado","mensajes":[{"codigo":1,"valor":"Firma inválida"}]}`)
		case "text":
			_, _ = io.WriteString(w, `{"estado":"Aprobación Comercial"}`)
		default:
			_, _ = io.WriteString(w, `{"codigo":99,"estado":"???"}`)
		}
	}))
	ctx := context.Background()

	res, err := c.QueryStatus(ctx, "ok", validToken())
	require.NoError(t, err)
	assert.Equal(t, ecf.StatusAccepted, res.Status)
	assert.Equal(t, "E3100000001", res.ENCF)

	res, err = c.QueryStatus(ctx, "bad", validToken())
	require.NoError(t, err)
	assert.Equal(t, ecf.StatusRejected, res.Status)
	assert.Equal(t, "1: Firma inválida", res.Reason())

	res, err = c.QueryStatus(ctx, "text", validToken())
	require.NoError(t, err)
	assert.Equal(t, ecf.StatusApprovedCommercially, res.Status)
	assert.Equal(t, "text", res.TrackID)

	_, err = c.QueryStatus(ctx, "otro", validToken())
	assert.True(t, errors.Is(err, domain.ErrParse))
}

func TestPing(t *testing.T) {
	status := int32(http.StatusMethodNotAllowed)
	c, _ := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		w.WriteHeader(int(atomic.LoadInt32(&status)))
	}))

	assert.NoError(t, c.Ping(context.Background()))
	atomic.StoreInt32(&status, http.StatusBadGateway)
	assert.True(t, errors.Is(c.Ping(context.Background()), domain.ErrAuthorityUnavailable))
}

// authorityStub simula el servicio de autenticación contando canjes.
type authorityStub struct {
	authCalls int32
	delay     time.Duration
	expiresIn atomic.Int64 // nanosegundos
}

func newStub(expiresIn time.Duration) *authorityStub {
	s := &authorityStub{}
	s.expiresIn.Store(int64(expiresIn))
	return s
}

func (s *authorityStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/autenticacion/api/autenticacion/semilla":
		_, _ = io.WriteString(w, seedXML)
	case "/autenticacion/api/autenticacion/validarsemilla":
		atomic.AddInt32(&s.authCalls, 1)
		time.Sleep(s.delay)
		exp := time.Now().UTC().Add(time.Duration(s.expiresIn.Load())).Format(time.RFC3339)
		_, _ = io.WriteString(w, `{"token":"tok-`+exp+`","expiresAt":"`+exp+`"}`)
	case "/consultaestado/api/consultas/estado":
		switch r.URL.Query().Get("ncfelectronico") {
		case "E3100000001":
			_, _ = io.WriteString(w, `{"autorizado":true,"utilizado":false,"estado":"Disponible"}`)
		case "E3100000002":
			_, _ = io.WriteString(w, `{"autorizado":true,"utilizado":true,"estado":"Utilizado"}`)
		default:
			_, _ = io.WriteString(w, `{"autorizado":false,"utilizado":false,"estado":"No autorizado"}`)
		}
	default:
		http.NotFound(w, r)
	}
}

func newSessions(t *testing.T, stub *authorityStub) (*ecfxml.AuthorityClient, *ecfxml.Sessions) {
	t.Helper()
	c, _ := newClient(t, stub)
	vault := signer.NewVault(nil)
	_, err := vault.Load(testutil.IssuerID, testutil.LegacyP12(t, testutil.Certificate(t, testutil.CertOptions{}), "pw"), "pw")
	require.NoError(t, err)
	return c, ecfxml.NewSessions(c, vault, signer.NewDigitalSignatureService(nil), time.Minute, nil)
}

func TestTokenSession_RenovacionUnicaConcurrente(t *testing.T) {
	stub := newStub(time.Hour)
	stub.delay = 100 * time.Millisecond
	_, sessions := newSessions(t, stub)

	const callers = 20
	var wg sync.WaitGroup
	tokens := make([]string, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tok, err := sessions.Token(context.Background(), testutil.IssuerID)
			if !assert.NoError(t, err) {
				return
			}
			tokens[i] = tok.Value
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&stub.authCalls))
	for _, v := range tokens {
		assert.Equal(t, tokens[0], v)
	}
}

func TestTokenSession_RenuevaDentroDelMargen(t *testing.T) {
	// Vence en 30s y el margen es 1 minuto: cada llamada debe renovar.
	stub := newStub(30 * time.Second)
	_, sessions := newSessions(t, stub)
	ctx := context.Background()

	_, err := sessions.Token(ctx, testutil.IssuerID)
	require.NoError(t, err)
	_, err = sessions.Token(ctx, testutil.IssuerID)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&stub.authCalls))

	stub.expiresIn.Store(int64(time.Hour))
	sessions.Session(testutil.IssuerID).Invalidate()
	_, err = sessions.Token(ctx, testutil.IssuerID)
	require.NoError(t, err)
	_, err = sessions.Token(ctx, testutil.IssuerID)
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&stub.authCalls))
}

func TestTokenSession_SinCertificado(t *testing.T) {
	stub := newStub(time.Hour)
	_, sessions := newSessions(t, stub)

	_, err := sessions.Token(context.Background(), "emisor-sin-certificado")
	assert.True(t, errors.Is(err, domain.ErrCertificateNotFound))
	assert.Equal(t, int32(0), atomic.LoadInt32(&stub.authCalls))
}

func TestNCFLookup(t *testing.T) {
	stub := newStub(time.Hour)
	c, sessions := newSessions(t, stub)
	lookup := ecfxml.NewNCFLookup(c, sessions, ecfxml.StaticTaxIDs(map[string]string{testutil.IssuerID: testutil.IssuerTaxID}))
	ctx := context.Background()

	used, err := lookup.NCFUsed(ctx, testutil.IssuerID, "E3100000001")
	require.NoError(t, err)
	assert.False(t, used)

	used, err = lookup.NCFUsed(ctx, testutil.IssuerID, "E3100000002")
	require.NoError(t, err)
	assert.True(t, used)

	used, err = lookup.NCFUsed(ctx, testutil.IssuerID, "E3199999999")
	require.NoError(t, err)
	assert.True(t, used, "fuera de rango autorizado")

	_, err = lookup.NCFUsed(ctx, "desconocido", "E3100000001")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}
