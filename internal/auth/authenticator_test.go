package auth

import (
	"context"
	"encoding/base64"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gateway-core/internal/config"
	"gateway-core/internal/domain"
	"gateway-core/internal/logger"
)

const testSecret = "test-secret"

// stubKeyLookup devolve respostas fixas por key
type stubKeyLookup struct {
	keys  map[string]*domain.APIKeyInfo
	calls int
}

func (s *stubKeyLookup) Lookup(ctx context.Context, rawKey string) (*domain.APIKeyInfo, error) {
	s.calls++
	return s.keys[rawKey], nil
}

// stubIntrospector devolve respostas fixas por token
type stubIntrospector struct {
	tokens map[string]*domain.IntrospectionResult
	calls  int
}

func (s *stubIntrospector) Introspect(ctx context.Context, rawToken string) (*domain.IntrospectionResult, error) {
	s.calls++
	return s.tokens[rawToken], nil
}

func newTestAuthenticator(t *testing.T, keyLookup domain.APIKeyLookup, introspector domain.OAuthIntrospector) *Authenticator {
	cfg := &config.Config{
		JWTSecret:   testSecret,
		PublicPaths: []string{"/health", "/metrics"},
	}
	authenticator := NewAuthenticator(cfg, keyLookup, introspector, logger.NewLogger("error", "json"))
	t.Cleanup(authenticator.Stop)
	return authenticator
}

func signToken(t *testing.T, claims jwt.MapClaims) string {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func TestAuthenticate_ValidJWT(t *testing.T) {
	authenticator := newTestAuthenticator(t, nil, nil)

	rawToken := signToken(t, jwt.MapClaims{
		"id":             "user-42",
		"email":          "user@example.com",
		"role":           "user",
		"organizationId": "org-7",
		"scopes":         []interface{}{"read:events"},
		"exp":            time.Now().Add(time.Hour).Unix(),
	})

	principal, denial := authenticator.Authenticate(context.Background(), rawToken)
	require.Nil(t, denial)
	require.NotNil(t, principal)
	assert.Equal(t, "user-42", principal.ID)
	assert.Equal(t, "user", principal.Role)
	assert.Equal(t, "org-7", principal.OrganizationID)
	assert.Equal(t, []string{"read:events"}, principal.Scopes)
	assert.Equal(t, domain.JWTAuth, principal.AuthType)
}

func TestAuthenticate_JWTDefaultsRoleToUser(t *testing.T) {
	authenticator := newTestAuthenticator(t, nil, nil)

	rawToken := signToken(t, jwt.MapClaims{
		"sub": "user-42",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	principal, denial := authenticator.Authenticate(context.Background(), rawToken)
	require.Nil(t, denial)
	assert.Equal(t, "user-42", principal.ID)
	assert.Equal(t, "user", principal.Role)
}

func TestAuthenticate_JWTScopeStringClaim(t *testing.T) {
	authenticator := newTestAuthenticator(t, nil, nil)

	rawToken := signToken(t, jwt.MapClaims{
		"sub":   "user-42",
		"scope": "read:events write:events",
		"exp":   time.Now().Add(time.Hour).Unix(),
	})

	principal, denial := authenticator.Authenticate(context.Background(), rawToken)
	require.Nil(t, denial)
	assert.Equal(t, []string{"read:events", "write:events"}, principal.Scopes)
}

func TestAuthenticate_ExpiredJWT(t *testing.T) {
	authenticator := newTestAuthenticator(t, nil, nil)

	rawToken := signToken(t, jwt.MapClaims{
		"sub": "user-42",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})

	principal, denial := authenticator.Authenticate(context.Background(), rawToken)
	assert.Nil(t, principal)
	require.NotNil(t, denial)
	assert.Equal(t, domain.CodeAuthenticationFailed, denial.Code)
	assert.Equal(t, http.StatusUnauthorized, denial.Status)
}

func TestAuthenticate_WrongSignature(t *testing.T) {
	authenticator := newTestAuthenticator(t, nil, nil)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user-42",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte("other-secret"))
	require.NoError(t, err)

	principal, denial := authenticator.Authenticate(context.Background(), signed)
	assert.Nil(t, principal)
	require.NotNil(t, denial)
	assert.Equal(t, domain.CodeAuthenticationFailed, denial.Code)
}

func TestAuthenticate_MissingCredential(t *testing.T) {
	authenticator := newTestAuthenticator(t, nil, nil)

	principal, denial := authenticator.Authenticate(context.Background(), "")
	assert.Nil(t, principal)
	require.NotNil(t, denial)
	assert.Equal(t, domain.CodeAuthenticationRequired, denial.Code)
}

func TestAuthenticate_APIKey(t *testing.T) {
	lookup := &stubKeyLookup{keys: map[string]*domain.APIKeyInfo{
		"valid-key": {
			ID:       "key-1",
			Name:     "partner",
			ClientID: "client-9",
			Scopes:   []string{"read:events"},
			IsActive: true,
		},
	}}
	authenticator := newTestAuthenticator(t, lookup, nil)

	principal, denial := authenticator.Authenticate(context.Background(), "valid-key")
	require.Nil(t, denial)
	assert.Equal(t, "key-1", principal.ID)
	assert.Equal(t, "api_client", principal.Role)
	assert.Equal(t, "client-9", principal.ClientID)
	assert.Equal(t, domain.APIKeyAuth, principal.AuthType)

	// A segunda validação vem do cache local
	_, denial = authenticator.Authenticate(context.Background(), "valid-key")
	require.Nil(t, denial)
	assert.Equal(t, 1, lookup.calls)
}

func TestAuthenticate_InactiveAPIKey(t *testing.T) {
	lookup := &stubKeyLookup{keys: map[string]*domain.APIKeyInfo{
		"revoked-key": {ID: "key-1", IsActive: false},
	}}
	authenticator := newTestAuthenticator(t, lookup, nil)

	principal, denial := authenticator.Authenticate(context.Background(), "revoked-key")
	assert.Nil(t, principal)
	require.NotNil(t, denial)
	assert.Equal(t, domain.CodeAuthenticationFailed, denial.Code)
}

func TestAuthenticate_ExpiredAPIKey(t *testing.T) {
	expired := time.Now().Add(-time.Hour)
	lookup := &stubKeyLookup{keys: map[string]*domain.APIKeyInfo{
		"stale-key": {ID: "key-1", IsActive: true, ExpiresAt: &expired},
	}}
	authenticator := newTestAuthenticator(t, lookup, nil)

	_, denial := authenticator.Authenticate(context.Background(), "stale-key")
	require.NotNil(t, denial)
	assert.Equal(t, domain.CodeAuthenticationFailed, denial.Code)
}

func TestAuthenticate_OAuthToken(t *testing.T) {
	introspector := &stubIntrospector{tokens: map[string]*domain.IntrospectionResult{
		"opaque-token": {
			Active:   true,
			ClientID: "client-9",
			Sub:      "user-42",
			Scope:    "read:events write:events",
			Exp:      time.Now().Add(time.Hour).Unix(),
		},
	}}
	authenticator := newTestAuthenticator(t, nil, introspector)

	principal, denial := authenticator.Authenticate(context.Background(), "opaque-token")
	require.Nil(t, denial)
	assert.Equal(t, "user-42", principal.ID)
	assert.Equal(t, "oauth_client", principal.Role)
	assert.Equal(t, []string{"read:events", "write:events"}, principal.Scopes)
	assert.Equal(t, domain.OAuthAuth, principal.AuthType)

	// A segunda validação vem do cache local
	_, denial = authenticator.Authenticate(context.Background(), "opaque-token")
	require.Nil(t, denial)
	assert.Equal(t, 1, introspector.calls)
}

func TestAuthenticate_InactiveOAuthToken(t *testing.T) {
	introspector := &stubIntrospector{tokens: map[string]*domain.IntrospectionResult{
		"revoked-token": {Active: false, Sub: "user-42"},
	}}
	authenticator := newTestAuthenticator(t, nil, introspector)

	_, denial := authenticator.Authenticate(context.Background(), "revoked-token")
	require.NotNil(t, denial)
	assert.Equal(t, domain.CodeAuthenticationFailed, denial.Code)
}

func TestExtractToken(t *testing.T) {
	basic := func(user, pass string) string {
		return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+pass))
	}

	tests := []struct {
		name     string
		build    func(r *http.Request)
		expected string
	}{
		{
			name:     "Bearer token",
			build:    func(r *http.Request) { r.Header.Set("Authorization", "Bearer abc123") },
			expected: "abc123",
		},
		{
			name:     "Basic with empty user",
			build:    func(r *http.Request) { r.Header.Set("Authorization", basic("", "secret")) },
			expected: "secret",
		},
		{
			name:     "Basic with empty password",
			build:    func(r *http.Request) { r.Header.Set("Authorization", basic("apikey-value", "")) },
			expected: "apikey-value",
		},
		{
			name:     "Basic with both parts is ignored",
			build:    func(r *http.Request) { r.Header.Set("Authorization", basic("user", "pass")) },
			expected: "",
		},
		{
			name:     "X-API-Key header",
			build:    func(r *http.Request) { r.Header.Set("X-API-Key", "key-1") },
			expected: "key-1",
		},
		{
			name:     "API-Key header",
			build:    func(r *http.Request) { r.Header.Set("API-Key", "key-2") },
			expected: "key-2",
		},
		{
			name: "Bearer wins over API key header",
			build: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer abc123")
				r.Header.Set("X-API-Key", "key-1")
			},
			expected: "abc123",
		},
		{
			name:     "Token query parameter",
			build:    func(r *http.Request) { r.URL.RawQuery = "token=qtoken" },
			expected: "qtoken",
		},
		{
			name:     "api_key query parameter",
			build:    func(r *http.Request) { r.URL.RawQuery = "api_key=qkey" },
			expected: "qkey",
		},
		{
			name:     "No credential",
			build:    func(r *http.Request) {},
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := http.NewRequest(http.MethodGet, "http://gateway.local/api/events", nil)
			require.NoError(t, err)
			tt.build(r)

			assert.Equal(t, tt.expected, ExtractToken(r))
		})
	}
}

func TestIsPublicPath(t *testing.T) {
	authenticator := newTestAuthenticator(t, nil, nil)

	assert.True(t, authenticator.IsPublicPath("/health"))
	assert.True(t, authenticator.IsPublicPath("/metrics"))
	assert.False(t, authenticator.IsPublicPath("/api/events"))
}

func TestCheckScopes(t *testing.T) {
	principal := &domain.Principal{Scopes: []string{"read:events", "write:events"}}

	assert.Nil(t, CheckScopes(principal, nil))
	assert.Nil(t, CheckScopes(principal, []string{"read:events"}))

	denial := CheckScopes(principal, []string{"read:events", "admin:all"})
	require.NotNil(t, denial)
	assert.Equal(t, domain.CodeInsufficientScopes, denial.Code)
	assert.Equal(t, http.StatusForbidden, denial.Status)
	assert.Equal(t, []string{"admin:all"}, denial.Required)
}

func TestCheckRole(t *testing.T) {
	tests := []struct {
		name      string
		role      string
		required  []string
		satisfied bool
	}{
		{"Exact hierarchical match", "admin", []string{"admin"}, true},
		{"Higher role satisfies lower", "super_admin", []string{"moderator"}, true},
		{"Lower role does not satisfy higher", "user", []string{"admin"}, false},
		{"Parallel role exact match", "api_client", []string{"api_client"}, true},
		{"Parallel role never satisfies hierarchical", "api_client", []string{"user"}, false},
		{"Hierarchical role never satisfies parallel", "admin", []string{"api_client"}, false},
		{"Any of several roles", "moderator", []string{"admin", "moderator"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			principal := &domain.Principal{Role: tt.role}
			denial := CheckRole(principal, tt.required...)
			if tt.satisfied {
				assert.Nil(t, denial)
			} else {
				require.NotNil(t, denial)
				assert.Equal(t, domain.CodeInsufficientPerms, denial.Code)
				assert.Equal(t, tt.required, denial.Required)
			}
		})
	}
}

func TestCheckOrganization(t *testing.T) {
	principal := &domain.Principal{Role: "user", OrganizationID: "org-7"}

	assert.Nil(t, CheckOrganization(principal, "org-7"))
	assert.NotNil(t, CheckOrganization(principal, "org-8"))
	assert.NotNil(t, CheckOrganization(principal, ""))

	superAdmin := &domain.Principal{Role: "super_admin"}
	assert.Nil(t, CheckOrganization(superAdmin, "org-anything"))
}

func TestAllowedAuthType(t *testing.T) {
	principal := &domain.Principal{AuthType: domain.JWTAuth}

	assert.True(t, AllowedAuthType(principal, nil))
	assert.True(t, AllowedAuthType(principal, []domain.AuthType{domain.JWTAuth, domain.APIKeyAuth}))
	assert.False(t, AllowedAuthType(principal, []domain.AuthType{domain.OAuthAuth}))
}
