package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dealgraph.org/db/repository"
)

func authTestServer(t *testing.T, jwtSvc *JWTService) *echo.Echo {
	t.Helper()
	e := echo.New()
	e.GET("/whoami", func(c echo.Context) error {
		return c.JSON(http.StatusOK, scopeFrom(c))
	}, AuthMiddleware(jwtSvc))
	return e
}

func TestAuthMiddlewareValidToken(t *testing.T) {
	jwtSvc := NewJWTService("test-secret", time.Hour)
	token, err := jwtSvc.GenerateToken("user-1", "org-1", "admin")
	require.NoError(t, err)

	e := authTestServer(t, jwtSvc)
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "org-1")
	assert.Contains(t, rec.Body.String(), "user-1")
}

func TestAuthMiddlewareMissingToken(t *testing.T) {
	e := authTestServer(t, NewJWTService("test-secret", time.Hour))
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthMiddlewareWrongSecret(t *testing.T) {
	other := NewJWTService("other-secret", time.Hour)
	token, err := other.GenerateToken("user-1", "org-1", "member")
	require.NoError(t, err)

	e := authTestServer(t, NewJWTService("test-secret", time.Hour))
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthMiddlewareExpiredToken(t *testing.T) {
	jwtSvc := NewJWTService("test-secret", time.Hour)
	jwtSvc.ttl = -time.Minute
	token, err := jwtSvc.GenerateToken("user-1", "org-1", "member")
	require.NoError(t, err)
	jwtSvc.ttl = time.Hour

	e := authTestServer(t, jwtSvc)
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthMiddlewareMissingOrg(t *testing.T) {
	jwtSvc := NewJWTService("test-secret", time.Hour)
	token, err := jwtSvc.GenerateToken("user-1", "", "member")
	require.NoError(t, err)

	e := authTestServer(t, jwtSvc)
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthMiddlewareSuperadminWithoutOrg(t *testing.T) {
	jwtSvc := NewJWTService("test-secret", time.Hour)
	token, err := jwtSvc.GenerateToken("root-user", "", "superadmin")
	require.NoError(t, err)

	e := authTestServer(t, jwtSvc)
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireRole(t *testing.T) {
	e := echo.New()

	check := func(scope repository.Scope, role string) error {
		c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
		c.Set(contextKeyScope, scope)
		return requireRole(c, role)
	}

	assert.NoError(t, check(repository.Scope{Role: "member"}, "member"))
	assert.Error(t, check(repository.Scope{Role: "member"}, "admin"))
	assert.NoError(t, check(repository.Scope{Role: "admin"}, "admin"))
	assert.Error(t, check(repository.Scope{Role: "admin"}, "superadmin"))
	assert.NoError(t, check(repository.Scope{Role: "superadmin", Superadmin: true}, "superadmin"))
	assert.NoError(t, check(repository.Scope{Role: "superadmin", Superadmin: true}, "admin"))
}
