package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gateway-core/internal/auth"
	"gateway-core/internal/authz"
	"gateway-core/internal/config"
	"gateway-core/internal/domain"
	"gateway-core/internal/logger"
	"gateway-core/internal/metrics"
	"gateway-core/internal/ratelimit"
	"gateway-core/internal/storage"
	"gateway-core/internal/traffic"
)

const testSecret = "test-secret"

type testEnv struct {
	router     *gin.Engine
	engine     *ratelimit.Engine
	monitor    *traffic.Monitor
	authorizer *authz.Authorizer
	pipeline   *Pipeline
}

func newTestEnv(t *testing.T, opts AuthOptions) *testEnv {
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		JWTSecret:             testSecret,
		PublicPaths:           []string{"/health"},
		RapidRequestThreshold: 1000,
		GeoCountryThreshold:   3,
		UserAgentThreshold:    5,
		AutoBlockThreshold:    80,
		AutoBlockDuration:     3600,
		RetentionHours:        24,
		RecordQueueSize:       64,
	}

	log := logger.NewLogger("error", "json")
	store := storage.NewMemoryStore(log)
	engine := ratelimit.NewEngine(store, log)
	monitor := traffic.NewMonitor(store, cfg, log)
	authenticator := auth.NewAuthenticator(cfg, nil, nil, log)
	authorizer, err := authz.NewAuthorizer(log)
	require.NoError(t, err)

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	authMiddleware := NewAuthMiddleware(authenticator, log)
	pipeline := NewPipeline(authMiddleware, monitor, engine, m, log)

	router := gin.New()
	group := router.Group("/")
	group.Use(pipeline.Handlers(opts)...)
	group.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	group.GET("/api/events", func(c *gin.Context) { c.Status(http.StatusOK) })

	t.Cleanup(func() {
		monitor.Stop()
		authenticator.Stop()
		authorizer.Stop()
		store.Close()
	})

	return &testEnv{
		router:     router,
		engine:     engine,
		monitor:    monitor,
		authorizer: authorizer,
		pipeline:   pipeline,
	}
}

func signTestToken(t *testing.T, claims jwt.MapClaims) string {
	if _, ok := claims["exp"]; !ok {
		claims["exp"] = time.Now().Add(time.Hour).Unix()
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func doRequest(env *testEnv, build func(r *http.Request)) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	r.RemoteAddr = "10.0.0.1:43210"
	if build != nil {
		build(r)
	}
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, r)
	return w
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
			TraceID string `json:"traceId"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.NotEmpty(t, body.Error.TraceID)
	return body.Error.Code
}

func TestPipeline_MissingCredentialWhenRequired(t *testing.T) {
	env := newTestEnv(t, AuthOptions{RequireAuth: true})

	w := doRequest(env, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, domain.CodeAuthenticationRequired, errorCode(t, w))
}

func TestPipeline_InvalidTokenIsRejected(t *testing.T) {
	env := newTestEnv(t, AuthOptions{RequireAuth: true})

	w := doRequest(env, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer not-a-token")
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, domain.CodeAuthenticationFailed, errorCode(t, w))
}

func TestPipeline_ValidTokenPasses(t *testing.T) {
	env := newTestEnv(t, AuthOptions{RequireAuth: true})

	w := doRequest(env, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+signTestToken(t, jwt.MapClaims{"sub": "user-42"}))
	})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestPipeline_PublicPathBypassesAuthentication(t *testing.T) {
	env := newTestEnv(t, AuthOptions{RequireAuth: true})

	r := httptest.NewRequest(http.MethodGet, "/health", nil)
	r.RemoteAddr = "10.0.0.1:43210"
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestPipeline_RateLimitDenial(t *testing.T) {
	env := newTestEnv(t, AuthOptions{})
	require.NoError(t, env.engine.AddRule(&domain.RateLimitRule{
		ID:                "ip-2rpm",
		Name:              "ip-2rpm",
		ClientType:        domain.IPClient,
		Endpoints:         []string{"*"},
		Methods:           []string{"*"},
		RequestsPerMinute: 2,
		Action:            domain.ThrottleAction,
		IsActive:          true,
	}))

	for i := 0; i < 2; i++ {
		w := doRequest(env, nil)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
		assert.NotEmpty(t, w.Header().Get("X-RateLimit-Remaining"))
	}

	w := doRequest(env, nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, domain.CodeRateLimitExceeded, errorCode(t, w))
	assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
}

func TestPipeline_AuthorizationDenialDoesNotConsumeRateLimit(t *testing.T) {
	env := newTestEnv(t, AuthOptions{})
	gin.SetMode(gin.TestMode)

	require.NoError(t, env.engine.AddRule(&domain.RateLimitRule{
		ID:                "user-1rpm",
		Name:              "user-1rpm",
		ClientType:        domain.UserClient,
		Endpoints:         []string{"*"},
		Methods:           []string{"*"},
		RequestsPerMinute: 1,
		Action:            domain.ThrottleAction,
		IsActive:          true,
	}))

	router := gin.New()
	router.GET("/api/rules", append(env.pipeline.Handlers(AuthOptions{RequireAuth: true},
		RequirePermission(env.authorizer, "rate_limits", "write")),
		func(c *gin.Context) { c.Status(http.StatusOK) })...)

	// O guard de autorização roda antes do rate limiting: negações de
	// permissão não consomem orçamento e nunca viram 429
	for i := 0; i < 3; i++ {
		r := httptest.NewRequest(http.MethodGet, "/api/rules", nil)
		r.RemoteAddr = "10.0.0.1:43210"
		r.Header.Set("Authorization", "Bearer "+signTestToken(t, jwt.MapClaims{
			"sub": "user-42", "role": "user",
		}))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, r)

		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Equal(t, domain.CodeAuthorizationDenied, errorCode(t, w))
	}
}

func TestPipeline_OrganizationRuleSharesBudgetAcrossMembers(t *testing.T) {
	env := newTestEnv(t, AuthOptions{RequireAuth: true})
	require.NoError(t, env.engine.AddRule(&domain.RateLimitRule{
		ID:                "org-1rpm",
		Name:              "org-1rpm",
		ClientType:        domain.OrganizationClient,
		Endpoints:         []string{"*"},
		Methods:           []string{"*"},
		RequestsPerMinute: 1,
		Action:            domain.ThrottleAction,
		IsActive:          true,
	}))

	memberRequest := func(sub string) *httptest.ResponseRecorder {
		return doRequest(env, func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer "+signTestToken(t, jwt.MapClaims{
				"sub": sub, "role": "user", "organizationId": "org-42",
			}))
		})
	}

	w := memberRequest("user-1")
	assert.Equal(t, http.StatusOK, w.Code)

	// O orçamento é da organização: outro membro compartilha o contador
	w = memberRequest("user-2")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, domain.CodeRateLimitExceeded, errorCode(t, w))
}

func TestPipeline_BlacklistedIPIsDenied(t *testing.T) {
	env := newTestEnv(t, AuthOptions{})
	require.NoError(t, env.monitor.AddIPControl(&domain.IPAccessControl{
		IPAddress: "203.0.113.9",
		Type:      domain.Blacklist,
		Reason:    "abuse",
		IsActive:  true,
	}))

	w := doRequest(env, func(r *http.Request) {
		r.Header.Set("X-Forwarded-For", "203.0.113.9")
	})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, domain.CodeIPAccessDenied, errorCode(t, w))

	w = doRequest(env, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestPipeline_GeoRestrictedCountryIsDenied(t *testing.T) {
	env := newTestEnv(t, AuthOptions{})
	require.NoError(t, env.monitor.AddGeoRestriction(&domain.GeographicRestriction{
		Name:      "embargoed",
		Type:      domain.BlockRestriction,
		Countries: []string{"XX"},
		IsActive:  true,
	}))

	w := doRequest(env, func(r *http.Request) {
		r.Header.Set("X-Country-Code", "XX")
	})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, domain.CodeGeoRestricted, errorCode(t, w))
}

func TestPipeline_BlockedClientIsDenied(t *testing.T) {
	env := newTestEnv(t, AuthOptions{})
	require.NoError(t, env.monitor.BlockClient("10.0.0.1", domain.IPClient, "manual", 60))

	w := doRequest(env, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, domain.CodeClientBlocked, errorCode(t, w))
}

func TestPipeline_ScopeEnforcement(t *testing.T) {
	env := newTestEnv(t, AuthOptions{RequireAuth: true, RequiredScopes: []string{"read:events"}})

	w := doRequest(env, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+signTestToken(t, jwt.MapClaims{
			"sub":    "user-42",
			"scopes": []interface{}{"read:events"},
		}))
	})
	assert.Equal(t, http.StatusOK, w.Code)

	w = doRequest(env, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+signTestToken(t, jwt.MapClaims{
			"sub":    "user-43",
			"scopes": []interface{}{"write:events"},
		}))
	})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, domain.CodeInsufficientScopes, errorCode(t, w))
}

func TestPipeline_AuthTypeRestriction(t *testing.T) {
	env := newTestEnv(t, AuthOptions{
		RequireAuth:      true,
		AllowedAuthTypes: []domain.AuthType{domain.APIKeyAuth},
	})

	w := doRequest(env, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+signTestToken(t, jwt.MapClaims{"sub": "user-42"}))
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, domain.CodeAuthenticationFailed, errorCode(t, w))
}

func TestRequireRoleGuard(t *testing.T) {
	env := newTestEnv(t, AuthOptions{})
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.GET("/admin",
		env.pipeline.authMiddleware.Authenticate(AuthOptions{RequireAuth: true}),
		RequireRole("admin"),
		func(c *gin.Context) { c.Status(http.StatusOK) })

	request := func(role string) *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodGet, "/admin", nil)
		r.RemoteAddr = "10.0.0.1:43210"
		r.Header.Set("Authorization", "Bearer "+signTestToken(t, jwt.MapClaims{"sub": "u", "role": role}))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, r)
		return w
	}

	assert.Equal(t, http.StatusOK, request("admin").Code)
	assert.Equal(t, http.StatusOK, request("super_admin").Code)
	assert.Equal(t, http.StatusForbidden, request("user").Code)
}

func TestRequirePermissionGuard(t *testing.T) {
	env := newTestEnv(t, AuthOptions{})
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.GET("/users/:user_id/profile",
		env.pipeline.authMiddleware.Authenticate(AuthOptions{RequireAuth: true}),
		RequirePermission(env.authorizer, "profile", "read"),
		func(c *gin.Context) { c.Status(http.StatusOK) })

	request := func(sub, target string) *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodGet, "/users/"+target+"/profile", nil)
		r.RemoteAddr = "10.0.0.1:43210"
		r.Header.Set("Authorization", "Bearer "+signTestToken(t, jwt.MapClaims{"sub": sub, "role": "user"}))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, r)
		return w
	}

	// O parâmetro de rota user_id alimenta a condição ${user.id}
	assert.Equal(t, http.StatusOK, request("user-42", "user-42").Code)
	assert.Equal(t, http.StatusForbidden, request("user-42", "user-99").Code)
}

func TestRequireOrganizationGuard(t *testing.T) {
	env := newTestEnv(t, AuthOptions{})
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.GET("/orgs/:orgId/settings",
		env.pipeline.authMiddleware.Authenticate(AuthOptions{RequireAuth: true}),
		RequireOrganization(""),
		func(c *gin.Context) { c.Status(http.StatusOK) })

	request := func(org, target string) *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodGet, "/orgs/"+target+"/settings", nil)
		r.RemoteAddr = "10.0.0.1:43210"
		r.Header.Set("Authorization", "Bearer "+signTestToken(t, jwt.MapClaims{
			"sub": "u", "role": "admin", "organizationId": org,
		}))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, r)
		return w
	}

	assert.Equal(t, http.StatusOK, request("org-7", "org-7").Code)
	assert.Equal(t, http.StatusForbidden, request("org-7", "org-8").Code)
}
