// Package api implements the REST surface: authentication, tenancy
// extraction, and the resource handlers.
package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"dealgraph.org/db/repository"
)

// JWTService signs and validates HS256 bearer tokens carrying the tenant
// claims.
type JWTService struct {
	secret []byte
	ttl    time.Duration
}

func NewJWTService(secret string, ttl time.Duration) *JWTService {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &JWTService{secret: []byte(secret), ttl: ttl}
}

// Claims the platform issues and requires.
const (
	claimOrg  = "org_id"
	claimRole = "role"
)

// GenerateToken issues a token for a user in an organization.
func (j *JWTService) GenerateToken(userID, orgID, role string) (string, error) {
	now := time.Now()
	token, err := jwt.NewBuilder().
		Subject(userID).
		IssuedAt(now).
		Expiration(now.Add(j.ttl)).
		Claim(claimOrg, orgID).
		Claim(claimRole, role).
		Build()
	if err != nil {
		return "", fmt.Errorf("failed to build token: %w", err)
	}
	signed, err := jwt.Sign(token, jwt.WithKey(jwa.HS256, j.secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return string(signed), nil
}

// ValidateToken parses and verifies a signed token.
func (j *JWTService) ValidateToken(tokenString string) (jwt.Token, error) {
	token, err := jwt.Parse([]byte(tokenString), jwt.WithKey(jwa.HS256, j.secret))
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	return token, nil
}

const contextKeyScope = "scope"

// AuthMiddleware validates the bearer token and stores the tenant scope on
// the request context. Requests without a valid token never reach a handler.
func AuthMiddleware(jwtSvc *JWTService) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get(echo.HeaderAuthorization)
			raw, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || raw == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
			}

			token, err := jwtSvc.ValidateToken(raw)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			scope := repository.Scope{UserID: token.Subject()}
			if v, ok := token.Get(claimOrg); ok {
				scope.OrgID, _ = v.(string)
			}
			if v, ok := token.Get(claimRole); ok {
				scope.Role, _ = v.(string)
			}
			scope.Superadmin = scope.Role == "superadmin"

			if scope.OrgID == "" && !scope.Superadmin {
				return echo.NewHTTPError(http.StatusUnauthorized, "token missing organization")
			}

			c.Set(contextKeyScope, scope)
			return next(c)
		}
	}
}

// scopeFrom returns the authenticated tenant scope stored by the middleware.
func scopeFrom(c echo.Context) repository.Scope {
	scope, _ := c.Get(contextKeyScope).(repository.Scope)
	return scope
}

// requireRole rejects callers below the given role. Roles order:
// member < admin < superadmin.
func requireRole(c echo.Context, role string) error {
	scope := scopeFrom(c)
	if scope.Superadmin {
		return nil
	}
	switch role {
	case "admin":
		if scope.Role == "admin" {
			return nil
		}
	case "member":
		return nil
	}
	return echo.NewHTTPError(http.StatusForbidden, "insufficient role")
}
