package http_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apphttp "github.com/jhoicas/ecf-core/internal/interfaces/http"
	pkgjwt "github.com/jhoicas/ecf-core/pkg/jwt"
)

const (
	testJWTSecret = "test-secret-key-for-unit-tests"
	testUserID    = "00000000-0000-0000-0000-000000000001"
	testIssuerID  = "00000000-0000-0000-0000-000000000002"
	testIssuer    = "ecf-core-test"
	testExpMin    = 60
)

// protectedApp GET /protected con AuthMiddleware + RequireRole(allowed...).
func protectedApp(allowed ...string) *fiber.App {
	app := fiber.New()
	app.Get("/protected",
		apphttp.AuthMiddleware(testJWTSecret),
		apphttp.RequireRole(allowed...),
		func(c *fiber.Ctx) error {
			return c.JSON(fiber.Map{"role": apphttp.GetRole(c)})
		},
	)
	return app
}

func bearer(t *testing.T, role string, expMin int) string {
	t.Helper()
	tok, err := pkgjwt.Generate(testJWTSecret, testUserID, testIssuerID, role, testIssuer, expMin)
	require.NoError(t, err)
	return "Bearer " + tok
}

func TestRequireRole(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		auth    func(t *testing.T) string
		status  int
		code    string
	}{
		{"admin en ruta admin", []string{apphttp.RoleAdmin},
			func(t *testing.T) string { return bearer(t, apphttp.RoleAdmin, testExpMin) }, http.StatusOK, ""},
		{"operador en ruta admin u operador", []string{apphttp.RoleAdmin, apphttp.RoleOperator},
			func(t *testing.T) string { return bearer(t, apphttp.RoleOperator, testExpMin) }, http.StatusOK, ""},
		{"facturador en ruta admin", []string{apphttp.RoleAdmin},
			func(t *testing.T) string { return bearer(t, apphttp.RoleBiller, testExpMin) }, http.StatusForbidden, "FORBIDDEN"},
		{"operador en ruta facturador", []string{apphttp.RoleBiller},
			func(t *testing.T) string { return bearer(t, apphttp.RoleOperator, testExpMin) }, http.StatusForbidden, "FORBIDDEN"},
		{"token sin rol", []string{apphttp.RoleAdmin},
			func(t *testing.T) string { return bearer(t, "", testExpMin) }, http.StatusUnauthorized, "MISSING_ROLE"},
		{"sin header", []string{apphttp.RoleAdmin},
			func(*testing.T) string { return "" }, http.StatusUnauthorized, "MISSING_TOKEN"},
		{"esquema distinto de Bearer", []string{apphttp.RoleAdmin},
			func(*testing.T) string { return "Basic dXNlcjpwYXNz" }, http.StatusUnauthorized, "INVALID_TOKEN"},
		{"token malformado", []string{apphttp.RoleAdmin},
			func(*testing.T) string { return "Bearer token.invalido.aqui" }, http.StatusUnauthorized, "INVALID_TOKEN"},
		{"token vencido", []string{apphttp.RoleAdmin},
			func(t *testing.T) string { return bearer(t, apphttp.RoleAdmin, -5) }, http.StatusUnauthorized, "INVALID_TOKEN"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/protected", nil)
			if h := tt.auth(t); h != "" {
				req.Header.Set("Authorization", h)
			}
			resp, err := protectedApp(tt.allowed...).Test(req, -1)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tt.status, resp.StatusCode)
			if tt.code != "" {
				body, _ := io.ReadAll(resp.Body)
				assert.Contains(t, string(body), tt.code)
			}
		})
	}
}

func TestAuthMiddleware_CargaClaimsEnLocals(t *testing.T) {
	app := fiber.New()
	app.Get("/me", apphttp.AuthMiddleware(testJWTSecret), func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"user_id":   apphttp.GetUserID(c),
			"issuer_id": apphttp.GetIssuerID(c),
			"role":      apphttp.GetRole(c),
		})
	})

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", bearer(t, apphttp.RoleBiller, testExpMin))
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, testUserID, body["user_id"])
	assert.Equal(t, testIssuerID, body["issuer_id"])
	assert.Equal(t, apphttp.RoleBiller, body["role"])
}
