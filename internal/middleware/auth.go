package middleware

import (
	"gateway-core/internal/auth"
	"gateway-core/internal/authz"
	"gateway-core/internal/domain"

	"github.com/gin-gonic/gin"
)

// AuthOptions parametriza o middleware de autenticação
type AuthOptions struct {
	RequireAuth      bool
	AllowedAuthTypes []domain.AuthType
	RequiredScopes   []string
}

// AuthMiddleware implementa o middleware de autenticação do pipeline
type AuthMiddleware struct {
	authenticator *auth.Authenticator
	logger        domain.Logger
}

// NewAuthMiddleware cria uma nova instância do middleware de autenticação
func NewAuthMiddleware(authenticator *auth.Authenticator, logger domain.Logger) *AuthMiddleware {
	return &AuthMiddleware{authenticator: authenticator, logger: logger}
}

// Authenticate retorna o handler de autenticação com as opções dadas.
// Caminhos públicos dispensam credencial; falhas nesta etapa nunca
// resultam em fail-open.
func (m *AuthMiddleware) Authenticate(opts AuthOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		if m.authenticator.IsPublicPath(c.Request.URL.Path) {
			c.Next()
			return
		}

		ctx := enrichContext(c)
		log := m.logger.WithContext(ctx)

		rawToken := auth.ExtractToken(c.Request)
		if rawToken == "" {
			if opts.RequireAuth {
				abortWithDenial(c, domain.NewDenial(domain.CodeAuthenticationRequired, "authentication credentials are required"))
				return
			}
			c.Next()
			return
		}

		principal, denial := m.authenticator.Authenticate(ctx, rawToken)
		if denial != nil {
			log.Info("Authentication rejected", map[string]interface{}{
				"token": maskToken(rawToken),
				"code":  denial.Code,
			})
			abortWithDenial(c, denial)
			return
		}

		if !auth.AllowedAuthType(principal, opts.AllowedAuthTypes) {
			abortWithDenial(c, domain.NewDenial(domain.CodeAuthenticationFailed, "authentication scheme not accepted for this resource"))
			return
		}

		if denial := auth.CheckScopes(principal, opts.RequiredScopes); denial != nil {
			abortWithDenial(c, denial)
			return
		}

		log.Debug("Request authenticated", map[string]interface{}{
			"principal_id": principal.ID,
			"auth_type":    principal.AuthType,
			"role":         principal.Role,
		})
		SetPrincipal(c, principal)
		c.Next()
	}
}

// RequireRole compõe um guard de papel após a autenticação
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal := GetPrincipal(c)
		if principal == nil {
			abortWithDenial(c, domain.NewDenial(domain.CodeAuthenticationRequired, "authentication credentials are required"))
			return
		}
		if denial := auth.CheckRole(principal, roles...); denial != nil {
			abortWithDenial(c, denial)
			return
		}
		c.Next()
	}
}

// RequireOrganization compõe um guard de organização. Com id vazio o alvo
// vem do parâmetro de rota "orgId".
func RequireOrganization(organizationID string) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal := GetPrincipal(c)
		if principal == nil {
			abortWithDenial(c, domain.NewDenial(domain.CodeAuthenticationRequired, "authentication credentials are required"))
			return
		}

		target := organizationID
		if target == "" {
			target = c.Param("orgId")
		}
		if denial := auth.CheckOrganization(principal, target); denial != nil {
			abortWithDenial(c, denial)
			return
		}
		c.Next()
	}
}

// RequirePermission compõe um guard de permissão RBAC
func RequirePermission(authorizer *authz.Authorizer, resource, action string, conditions ...domain.Condition) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal := GetPrincipal(c)
		if principal == nil {
			abortWithDenial(c, domain.NewDenial(domain.CodeAuthenticationRequired, "authentication credentials are required"))
			return
		}
		if denial := authorizer.Authorize(principal, resource, action, conditions, requestAttrs(c)); denial != nil {
			abortWithDenial(c, denial)
			return
		}
		c.Next()
	}
}

// RequireAnyPermission compõe um guard que aceita qualquer uma das
// permissões listadas
func RequireAnyPermission(authorizer *authz.Authorizer, requests ...authz.PermissionRequest) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal := GetPrincipal(c)
		if principal == nil {
			abortWithDenial(c, domain.NewDenial(domain.CodeAuthenticationRequired, "authentication credentials are required"))
			return
		}
		if denial := authorizer.AuthorizeAny(principal, requests, requestAttrs(c)); denial != nil {
			abortWithDenial(c, denial)
			return
		}
		c.Next()
	}
}

// requestAttrs colhe os atributos da requisição usados na avaliação de
// condições: parâmetros de rota e de query
func requestAttrs(c *gin.Context) map[string]string {
	attrs := make(map[string]string)
	for key, values := range c.Request.URL.Query() {
		if len(values) > 0 {
			attrs[key] = values[0]
		}
	}
	for _, param := range c.Params {
		attrs[param.Key] = param.Value
	}
	return attrs
}
