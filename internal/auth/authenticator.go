package auth

import (
	"context"
	"encoding/base64"
	"net/http"
	"strings"
	"time"

	"gateway-core/internal/config"
	"gateway-core/internal/domain"

	"github.com/jellydator/ttlcache/v3"
)

// TTLs dos caches locais de validação. Consistência apenas eventual entre
// instâncias; aceitável para validação de credenciais revalidadas no
// colaborador externo após a expiração.
const (
	apiKeyCacheTTL = 5 * time.Minute
	oauthCacheTTL  = 2 * time.Minute
)

// hierarquia de papéis; api_client e oauth_client ficam fora dela
var roleRank = map[string]int{
	"user":        1,
	"moderator":   2,
	"admin":       3,
	"super_admin": 4,
}

// Authenticator valida credenciais por três estratégias em ordem fixa:
// token assinado, API key e introspecção OAuth. A primeira que validar
// produz o principal normalizado.
type Authenticator struct {
	cfg          *config.Config
	keyLookup    domain.APIKeyLookup
	introspector domain.OAuthIntrospector
	logger       domain.Logger

	keyCache   *ttlcache.Cache[string, *domain.APIKeyInfo]
	oauthCache *ttlcache.Cache[string, *domain.IntrospectionResult]
}

// NewAuthenticator cria uma nova instância do Authenticator
func NewAuthenticator(cfg *config.Config, keyLookup domain.APIKeyLookup, introspector domain.OAuthIntrospector, logger domain.Logger) *Authenticator {
	keyCache := ttlcache.New[string, *domain.APIKeyInfo](
		ttlcache.WithTTL[string, *domain.APIKeyInfo](apiKeyCacheTTL),
	)
	oauthCache := ttlcache.New[string, *domain.IntrospectionResult](
		ttlcache.WithTTL[string, *domain.IntrospectionResult](oauthCacheTTL),
	)
	go keyCache.Start()
	go oauthCache.Start()

	return &Authenticator{
		cfg:          cfg,
		keyLookup:    keyLookup,
		introspector: introspector,
		logger:       logger,
		keyCache:     keyCache,
		oauthCache:   oauthCache,
	}
}

// Stop encerra as goroutines de expiração dos caches
func (a *Authenticator) Stop() {
	a.keyCache.Stop()
	a.oauthCache.Stop()
}

// IsPublicPath verifica se o caminho dispensa autenticação
func (a *Authenticator) IsPublicPath(path string) bool {
	for _, prefix := range a.cfg.PublicPaths {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// ExtractToken extrai a credencial da requisição na ordem definida:
// Bearer, Basic (usuário ou senha vazios), headers de API key e por fim
// parâmetros de query
func ExtractToken(r *http.Request) string {
	authorization := r.Header.Get("Authorization")
	if authorization != "" {
		if strings.HasPrefix(authorization, "Bearer ") {
			return strings.TrimSpace(strings.TrimPrefix(authorization, "Bearer "))
		}
		if strings.HasPrefix(authorization, "Basic ") {
			decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(authorization, "Basic "))
			if err == nil {
				parts := strings.SplitN(string(decoded), ":", 2)
				if len(parts) == 2 {
					if parts[0] == "" && parts[1] != "" {
						return parts[1]
					}
					if parts[1] == "" && parts[0] != "" {
						return parts[0]
					}
				}
			}
		}
	}

	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	if key := r.Header.Get("API-Key"); key != "" {
		return key
	}

	query := r.URL.Query()
	if token := query.Get("token"); token != "" {
		return token
	}
	return query.Get("api_key")
}

// Authenticate valida a credencial pelas três estratégias em ordem fixa.
// Falha de todas resulta em AUTHENTICATION_FAILED.
func (a *Authenticator) Authenticate(ctx context.Context, rawToken string) (*domain.Principal, *domain.DenialError) {
	if rawToken == "" {
		return nil, domain.NewDenial(domain.CodeAuthenticationRequired, "authentication credentials are required")
	}

	if principal, err := a.validateJWT(rawToken); err == nil {
		return principal, nil
	} else {
		a.logger.Debug("JWT validation failed", map[string]interface{}{"error": err.Error()})
	}

	if principal, err := a.validateAPIKey(ctx, rawToken); err == nil {
		return principal, nil
	} else {
		a.logger.Debug("API key validation failed", map[string]interface{}{"error": err.Error()})
	}

	if principal, err := a.validateOAuth(ctx, rawToken); err == nil {
		return principal, nil
	} else {
		a.logger.Debug("OAuth introspection failed", map[string]interface{}{"error": err.Error()})
	}

	return nil, domain.NewDenial(domain.CodeAuthenticationFailed, "invalid or expired credentials")
}

// CheckScopes verifica se os escopos do principal são um superconjunto dos
// requeridos
func CheckScopes(principal *domain.Principal, required []string) *domain.DenialError {
	var missing []string
	for _, scope := range required {
		if !principal.HasScope(scope) {
			missing = append(missing, scope)
		}
	}
	if len(missing) > 0 {
		denial := domain.NewDenial(domain.CodeInsufficientScopes, "token does not carry the required scopes")
		denial.Required = missing
		return denial
	}
	return nil
}

// CheckRole verifica se o papel do principal satisfaz algum dos papéis
// exigidos. Papéis hierárquicos aceitam qualquer papel igual ou superior;
// api_client e oauth_client exigem correspondência exata.
func CheckRole(principal *domain.Principal, roles ...string) *domain.DenialError {
	rank, hierarchical := roleRank[principal.Role]
	for _, role := range roles {
		requiredRank, requiredHierarchical := roleRank[role]
		if requiredHierarchical {
			if hierarchical && rank >= requiredRank {
				return nil
			}
			continue
		}
		if principal.Role == role {
			return nil
		}
	}

	denial := domain.NewDenial(domain.CodeInsufficientPerms, "role is not sufficient for this resource")
	denial.Required = roles
	return denial
}

// CheckOrganization verifica o vínculo do principal com a organização
// alvo; super_admin ignora a checagem
func CheckOrganization(principal *domain.Principal, organizationID string) *domain.DenialError {
	if principal.Role == "super_admin" {
		return nil
	}
	if organizationID == "" || principal.OrganizationID != organizationID {
		return domain.NewDenial(domain.CodeOrgAccessDenied, "principal does not belong to the target organization")
	}
	return nil
}

// AllowedAuthType verifica se o tipo de autenticação está na lista
// permitida; lista vazia permite todos
func AllowedAuthType(principal *domain.Principal, allowed []domain.AuthType) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, t := range allowed {
		if principal.AuthType == t {
			return true
		}
	}
	return false
}
