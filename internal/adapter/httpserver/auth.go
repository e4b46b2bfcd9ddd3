package httpserver

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/PalachSHAXA/kamizo-sub004/internal/domain"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
)

const (
	tokenQueryParam = "token"
	identityKey     = "identity"
)

var (
	errMissingToken = errors.New("missing token")
	errInvalidToken = errors.New("invalid token")
	errUnknownRole  = errors.New("unknown role")
)

// Claims are the JWT claims that carry an identity. The subject is the user
// id; residents carry the building they live in.
type Claims struct {
	Name     string `json:"name,omitempty"`
	Role     string `json:"role"`
	Building string `json:"building,omitempty"`
	jwt.RegisteredClaims
}

// Authenticator verifies HMAC-signed identity tokens.
type Authenticator struct {
	secret []byte
	parser *jwt.Parser
}

func NewAuthenticator(secret string, clock clockwork.Clock) *Authenticator {
	return &Authenticator{
		secret: []byte(secret),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg(), jwt.SigningMethodHS384.Alg(), jwt.SigningMethodHS512.Alg()}),
			jwt.WithTimeFunc(clock.Now),
			jwt.WithExpirationRequired(),
		),
	}
}

// Authenticate reads the token from the "token" query parameter or a Bearer
// Authorization header and returns the identity it carries.
func (a *Authenticator) Authenticate(r *http.Request) (domain.Identity, error) {
	raw := r.URL.Query().Get(tokenQueryParam)
	if raw == "" {
		if h := r.Header.Get(echo.HeaderAuthorization); strings.HasPrefix(h, "Bearer ") {
			raw = strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
		}
	}
	if raw == "" {
		return domain.Identity{}, errMissingToken
	}

	var claims Claims
	token, err := a.parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	})
	if err != nil || !token.Valid {
		return domain.Identity{}, fmt.Errorf("%w: %v", errInvalidToken, err)
	}
	if claims.Subject == "" {
		return domain.Identity{}, fmt.Errorf("%w: missing subject", errInvalidToken)
	}

	return identityFromClaims(claims)
}

func identityFromClaims(c Claims) (domain.Identity, error) {
	role := domain.Role(c.Role)
	if role != domain.RoleResident && !role.IsExecutor() && !role.IsManagement() {
		return domain.Identity{}, fmt.Errorf("%w: %q", errUnknownRole, c.Role)
	}

	identity := domain.Identity{
		UserID:      c.Subject,
		DisplayName: c.Name,
		Role:        role,
	}
	// Only residents are bound to a building; staff span buildings.
	if role == domain.RoleResident {
		if c.Building == "" {
			return domain.Identity{}, fmt.Errorf("%w: resident without building", errInvalidToken)
		}
		identity.PartitionID = c.Building
	}
	return identity, nil
}

// requireManagement authenticates API callers and admits management roles only.
func (s *Server) requireManagement(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		identity, err := s.auth.Authenticate(c.Request())
		if err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "authentication required").SetInternal(err)
		}
		if !identity.Role.IsManagement() {
			return echo.NewHTTPError(http.StatusForbidden, "management role required")
		}
		c.Set(identityKey, identity)
		c.Set("userID", identity.UserID)
		return next(c)
	}
}
