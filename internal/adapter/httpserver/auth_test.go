package httpserver

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/PalachSHAXA/kamizo-sub004/internal/domain"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAuthenticator() *Authenticator {
	return NewAuthenticator(testSecret, clockwork.NewFakeClockAt(testNow))
}

func TestAuthenticate_ResidentFromQueryParam(t *testing.T) {
	auth := newTestAuthenticator()
	req := httptest.NewRequest(http.MethodGet, "/ws?token="+tokenFor(t, "u-1", domain.RoleResident, "b-7"), nil)

	identity, err := auth.Authenticate(req)

	require.NoError(t, err)
	assert.Equal(t, "u-1", identity.UserID)
	assert.Equal(t, "User u-1", identity.DisplayName)
	assert.Equal(t, domain.RoleResident, identity.Role)
	assert.Equal(t, "b-7", identity.PartitionID)
}

func TestAuthenticate_BearerHeader(t *testing.T) {
	auth := newTestAuthenticator()
	req := httptest.NewRequest(http.MethodGet, "/api/partitions", nil)
	req.Header.Set("Authorization", "Bearer "+tokenFor(t, "m-1", domain.RoleManager, ""))

	identity, err := auth.Authenticate(req)

	require.NoError(t, err)
	assert.Equal(t, domain.RoleManager, identity.Role)
}

func TestAuthenticate_StaffBuildingIgnored(t *testing.T) {
	auth := newTestAuthenticator()
	req := httptest.NewRequest(http.MethodGet, "/ws?token="+tokenFor(t, "e-1", domain.RoleExecutor, "b-7"), nil)

	identity, err := auth.Authenticate(req)

	require.NoError(t, err)
	assert.Empty(t, identity.PartitionID)
	assert.Equal(t, "global", identity.Partition())
}

func TestAuthenticate_Rejections(t *testing.T) {
	expired := signToken(t, Claims{
		Role: string(domain.RoleResident),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "u-1",
			ExpiresAt: jwt.NewNumericDate(testNow.Add(-time.Minute)),
		},
	})
	wrongSecret, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role: string(domain.RoleResident),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "u-1",
			ExpiresAt: jwt.NewNumericDate(testNow.Add(time.Hour)),
		},
	}).SignedString([]byte("another-secret-that-is-long-enough-too"))
	require.NoError(t, err)
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		Role: string(domain.RoleResident),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "u-1",
			ExpiresAt: jwt.NewNumericDate(testNow.Add(time.Hour)),
		},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name    string
		token   string
		wantErr error
	}{
		{"missing", "", errMissingToken},
		{"garbage", "not-a-jwt", errInvalidToken},
		{"expired", expired, errInvalidToken},
		{"wrong secret", wrongSecret, errInvalidToken},
		{"alg none", unsigned, errInvalidToken},
		{"no subject", signToken(t, Claims{Role: string(domain.RoleResident)}), errInvalidToken},
		{"resident without building", tokenFor(t, "u-1", domain.RoleResident, ""), errInvalidToken},
		{"unknown role", tokenFor(t, "u-1", domain.Role("janitor"), ""), errUnknownRole},
	}

	auth := newTestAuthenticator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/ws", nil)
			if tt.token != "" {
				q := req.URL.Query()
				q.Set("token", tt.token)
				req.URL.RawQuery = q.Encode()
			}

			_, err := auth.Authenticate(req)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestIdentityFromClaims_AllRoles(t *testing.T) {
	roles := []domain.Role{
		domain.RoleResident,
		domain.RoleExecutor,
		domain.RoleManager,
		domain.RoleAdmin,
		domain.RoleDirector,
		domain.RoleDispatcher,
		domain.RoleDepartmentHead,
	}
	for _, role := range roles {
		t.Run(string(role), func(t *testing.T) {
			claims := Claims{Role: string(role), Building: "b-1", RegisteredClaims: jwt.RegisteredClaims{Subject: "x"}}
			identity, err := identityFromClaims(claims)
			require.NoError(t, err)
			assert.Equal(t, role, identity.Role)
		})
	}
}
