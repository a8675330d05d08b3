package ecf

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jhoicas/ecf-core/internal/domain"
	"github.com/jhoicas/ecf-core/pkg/ecf"
	"github.com/jhoicas/ecf-core/pkg/logger"
)

// ── Rutas de los servicios ─────────────────────────────────────────────────────

const (
	pathSeed         = "/autenticacion/api/autenticacion/semilla"
	pathValidateSeed = "/autenticacion/api/autenticacion/validarsemilla"
	pathReception    = "/recepcion/api/facturaselectronicas"
	pathStatus       = "/consultaresultado/api/consultas/estado"
	pathLookupNCF    = "/consultaestado/api/consultas/estado"

	// defaultTokenTTL vigencia asumida si la autoridad no informa el vencimiento.
	defaultTokenTTL = time.Hour
	maxResponseSize = 4 << 20
)

// ── Tipos del protocolo ────────────────────────────────────────────────────────

// Seed semilla de autenticación. Raw es el XML recibido, que se firma tal cual.
type Seed struct {
	Value string
	Date  string
	Raw   []byte
}

// Token sesión emitida por la autoridad.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// ValidAt el token puede usarse en now (el margen lo aplica TokenSession).
func (t *Token) ValidAt(now time.Time) bool {
	return t != nil && t.Value != "" && now.Before(t.ExpiresAt)
}

// SubmitResult acuse de recepción.
type SubmitResult struct {
	TrackID  string
	Messages []string
}

// StatusResult estado de un envío.
type StatusResult struct {
	TrackID  string
	ENCF     string
	Code     string
	Status   ecf.SubmissionStatus
	Messages []string
}

// Reason motivo de rechazo tal como lo informa la autoridad.
func (r *StatusResult) Reason() string {
	return strings.Join(r.Messages, "; ")
}

// NCFLookupResult estado de un e-NCF según la autoridad.
type NCFLookupResult struct {
	ENCF       string
	Authorized bool // Dentro de un rango autorizado al emisor
	Used       bool // Ya fue utilizado
	Estado     string
}

type seedModel struct {
	XMLName xml.Name `xml:"SemillaModel"`
	Valor   string   `xml:"valor"`
	Fecha   string   `xml:"fecha"`
}

type tokenResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expiresAt"`
	Expira    string `json:"expira"`
}

type submitResponse struct {
	TrackID  string       `json:"trackId"`
	Mensajes []apiMessage `json:"mensajes"`
}

type statusResponse struct {
	TrackID  string          `json:"trackId"`
	Codigo   json.RawMessage `json:"codigo"`
	Estado   string          `json:"estado"`
	ENCF     string          `json:"encf"`
	Mensajes []apiMessage    `json:"mensajes"`
}

type lookupResponse struct {
	ENCF       string `json:"encf"`
	Autorizado bool   `json:"autorizado"`
	Utilizado  bool   `json:"utilizado"`
	Estado     string `json:"estado"`
}

type errorResponse struct {
	Mensajes []apiMessage `json:"mensajes"`
	Message  string       `json:"message"`
	Error    string       `json:"error"`
}

// apiMessage la autoridad envía mensajes como texto o como {"codigo": ..., "valor": ...}.
type apiMessage string

func (m *apiMessage) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*m = apiMessage(s)
		return nil
	}
	var obj struct {
		Codigo json.RawMessage `json:"codigo"`
		Valor  string          `json:"valor"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	code := strings.Trim(string(obj.Codigo), `"`)
	if code != "" && code != "null" {
		*m = apiMessage(code + ": " + obj.Valor)
		return nil
	}
	*m = apiMessage(obj.Valor)
	return nil
}

func messages(in []apiMessage) []string {
	out := make([]string, 0, len(in))
	for _, m := range in {
		if s := strings.TrimSpace(string(m)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// ── Cliente ────────────────────────────────────────────────────────────────────

// AuthorityClientConfig parámetros del cliente.
type AuthorityClientConfig struct {
	Environment ecf.Environment
	BaseURL     string        // Reemplaza la URL del ambiente (simuladores, pruebas)
	Timeout     time.Duration // Límite por llamada
	HTTPClient  *http.Client
}

// AuthorityClient cliente HTTP de los servicios de autenticación, recepción y consulta.
// Usa net/http de la stdlib; cada llamada lleva su propio timeout.
type AuthorityClient struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
	now        func() time.Time
	log        *logger.Logger
}

// NewAuthorityClient construye el cliente.
func NewAuthorityClient(cfg AuthorityClientConfig, log *logger.Logger) *AuthorityClient {
	if log == nil {
		log = logger.Nop()
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		env := cfg.Environment
		if env == "" {
			env = ecf.EnvTest
		}
		base = env.BaseURL()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: timeout}
	}
	return &AuthorityClient{
		baseURL:    base,
		timeout:    timeout,
		httpClient: hc,
		now:        time.Now,
		log:        log.Component("authority_client"),
	}
}

// WithClock reemplaza el reloj (tests).
func (c *AuthorityClient) WithClock(now func() time.Time) *AuthorityClient {
	c.now = now
	return c
}

// FetchSeed obtiene la semilla a firmar.
func (c *AuthorityClient) FetchSeed(ctx context.Context) (*Seed, error) {
	const op = "semilla"
	body, err := c.do(ctx, op, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+pathSeed, nil)
	})
	if err != nil {
		return nil, err
	}
	var m seedModel
	if err := xml.Unmarshal(body, &m); err != nil {
		return nil, &domain.AuthorityError{Op: op, Err: domain.ErrParse, Messages: []string{err.Error()}}
	}
	if strings.TrimSpace(m.Valor) == "" {
		return nil, &domain.AuthorityError{Op: op, Err: domain.ErrParse, Messages: []string{"semilla sin valor"}}
	}
	return &Seed{Value: strings.TrimSpace(m.Valor), Date: strings.TrimSpace(m.Fecha), Raw: body}, nil
}

// Authenticate canjea la semilla firmada por un token.
func (c *AuthorityClient) Authenticate(ctx context.Context, signedSeed []byte) (*Token, error) {
	const op = "autenticación"
	body, err := c.do(ctx, op, func(ctx context.Context) (*http.Request, error) {
		return newMultipartRequest(ctx, c.baseURL+pathValidateSeed, "semilla.xml", signedSeed, nil)
	})
	if err != nil {
		return nil, err
	}
	var r tokenResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, &domain.AuthorityError{Op: op, Err: domain.ErrParse, Messages: []string{err.Error()}}
	}
	if r.Token == "" {
		return nil, &domain.AuthorityError{Op: op, Err: domain.ErrParse, Messages: []string{"respuesta sin token"}}
	}
	expires := c.now().Add(defaultTokenTTL)
	for _, raw := range []string{r.ExpiresAt, r.Expira} {
		if t, ok := parseAuthorityTime(raw); ok {
			expires = t
			break
		}
	}
	c.log.Debug().Time("expires_at", expires).Msg("token de la autoridad obtenido")
	return &Token{Value: r.Token, ExpiresAt: expires}, nil
}

// Submit envía un e-CF firmado. filename debe ser {RNCEmisor}{eNCF}.xml.
func (c *AuthorityClient) Submit(ctx context.Context, signedXML []byte, filename string, token *Token) (*SubmitResult, error) {
	const op = "recepción"
	if err := c.requireToken(op, token); err != nil {
		return nil, err
	}
	body, err := c.do(ctx, op, func(ctx context.Context) (*http.Request, error) {
		return newMultipartRequest(ctx, c.baseURL+pathReception, filename, signedXML, token)
	})
	if err != nil {
		return nil, err
	}
	var r submitResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, &domain.AuthorityError{Op: op, Err: domain.ErrParse, Messages: []string{err.Error()}}
	}
	if r.TrackID == "" {
		return nil, &domain.AuthorityError{Op: op, Err: domain.ErrParse, Messages: []string{"respuesta sin trackId"}}
	}
	return &SubmitResult{TrackID: r.TrackID, Messages: messages(r.Mensajes)}, nil
}

// QueryStatus consulta el resultado de un envío.
func (c *AuthorityClient) QueryStatus(ctx context.Context, trackID string, token *Token) (*StatusResult, error) {
	const op = "consulta de estado"
	if err := c.requireToken(op, token); err != nil {
		return nil, err
	}
	u := c.baseURL + pathStatus + "?" + url.Values{"trackid": {trackID}}.Encode()
	body, err := c.do(ctx, op, func(ctx context.Context) (*http.Request, error) {
		return newAuthorizedRequest(ctx, http.MethodGet, u, token)
	})
	if err != nil {
		return nil, err
	}
	var r statusResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, &domain.AuthorityError{Op: op, Err: domain.ErrParse, Messages: []string{err.Error()}}
	}
	code := strings.Trim(strings.TrimSpace(string(r.Codigo)), `"`)
	status, ok := ecf.StatusFromCode(code)
	if !ok {
		status, ok = ecf.StatusFromCode(r.Estado)
	}
	if !ok {
		return nil, &domain.AuthorityError{Op: op, Err: domain.ErrParse, Messages: []string{fmt.Sprintf("estado desconocido: codigo=%s estado=%q", code, r.Estado)}}
	}
	if r.TrackID == "" {
		r.TrackID = trackID
	}
	return &StatusResult{TrackID: r.TrackID, ENCF: r.ENCF, Code: code, Status: status, Messages: messages(r.Mensajes)}, nil
}

// LookupNCF consulta si un e-NCF está autorizado al emisor y si ya fue utilizado.
func (c *AuthorityClient) LookupNCF(ctx context.Context, issuerRNC, encf string, token *Token) (*NCFLookupResult, error) {
	const op = "consulta de e-NCF"
	if err := c.requireToken(op, token); err != nil {
		return nil, err
	}
	q := url.Values{"rncemisor": {ecf.OnlyDigits(issuerRNC)}, "ncfelectronico": {encf}}
	u := c.baseURL + pathLookupNCF + "?" + q.Encode()
	body, err := c.do(ctx, op, func(ctx context.Context) (*http.Request, error) {
		return newAuthorizedRequest(ctx, http.MethodGet, u, token)
	})
	if err != nil {
		return nil, err
	}
	var r lookupResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, &domain.AuthorityError{Op: op, Err: domain.ErrParse, Messages: []string{err.Error()}}
	}
	if r.ENCF == "" {
		r.ENCF = encf
	}
	return &NCFLookupResult{ENCF: r.ENCF, Authorized: r.Autorizado, Used: r.Utilizado, Estado: r.Estado}, nil
}

// Ping sondea la disponibilidad del servicio de autenticación (HEAD sobre la semilla).
// Cualquier respuesta que no sea de indisponibilidad cuenta como servicio disponible.
func (c *AuthorityClient) Ping(ctx context.Context) error {
	_, err := c.do(ctx, "sonda", func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodHead, c.baseURL+pathSeed, nil)
	})
	if errors.Is(err, domain.ErrAuthorityRejected) {
		return nil
	}
	return err
}

func (c *AuthorityClient) requireToken(op string, token *Token) error {
	if !token.ValidAt(c.now()) {
		return &domain.AuthorityError{Op: op, Err: domain.ErrTokenExpired}
	}
	return nil
}

// do ejecuta la llamada con timeout propio y clasifica el resultado.
func (c *AuthorityClient) do(ctx context.Context, op string, build func(context.Context) (*http.Request, error)) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := build(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: crear request: %w", op, err)
	}
	start := c.now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransport(op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, classifyTransport(op, err)
	}
	c.log.Debug().
		Str("op", op).
		Str("method", req.Method).
		Int("status", resp.StatusCode).
		Dur("elapsed", c.now().Sub(start)).
		Msg("llamada a la autoridad")

	if resp.StatusCode >= 300 {
		return nil, classifyStatus(op, resp.StatusCode, body)
	}
	return body, nil
}

func classifyTransport(op string, err error) error {
	var nerr net.Error
	switch {
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("%s: %w", op, err)
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &nerr) && nerr.Timeout():
		return &domain.AuthorityError{Op: op, Err: domain.ErrTimeout, Messages: []string{err.Error()}}
	default:
		return &domain.AuthorityError{Op: op, Err: domain.ErrNetwork, Messages: []string{err.Error()}}
	}
}

func classifyStatus(op string, status int, body []byte) error {
	aerr := &domain.AuthorityError{Op: op, StatusCode: status, Messages: parseErrorMessages(body)}
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		aerr.Err = domain.ErrAuthorityRejected
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests, status >= 500:
		aerr.Err = domain.ErrAuthorityUnavailable
	default:
		aerr.Err = domain.ErrAuthorityRejected
	}
	return aerr
}

func parseErrorMessages(body []byte) []string {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil
	}
	var r errorResponse
	if err := json.Unmarshal(body, &r); err == nil {
		out := messages(r.Mensajes)
		for _, s := range []string{r.Message, r.Error} {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	if len(body) > 512 {
		body = body[:512]
	}
	return []string{string(body)}
}

func newMultipartRequest(ctx context.Context, u, filename string, content []byte, token *Token) (*http.Request, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("xml", filename)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(content); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Accept", "application/json")
	if token != nil {
		req.Header.Set("Authorization", "Bearer "+token.Value)
	}
	return req, nil
}

func newAuthorizedRequest(ctx context.Context, method, u string, token *Token) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token.Value)
	return req, nil
}

var authorityTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	DateTimeLayout,
}

func parseAuthorityTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range authorityTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
