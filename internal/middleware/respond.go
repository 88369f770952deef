package middleware

import (
	"context"
	"net"
	"strconv"
	"strings"
	"time"

	"gateway-core/internal/domain"
	"gateway-core/internal/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// chave usada para guardar o principal no contexto do gin
const principalKey = "principal"

// abortWithDenial emite o corpo de erro padrão do gateway e interrompe a
// cadeia de middlewares
func abortWithDenial(c *gin.Context, denial *domain.DenialError) {
	payload := gin.H{
		"code":      denial.Code,
		"message":   denial.Message,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"traceId":   requestID(c),
	}
	if denial.RetryAfter > 0 {
		payload["retryAfter"] = denial.RetryAfter
		c.Header("Retry-After", strconv.Itoa(denial.RetryAfter))
	}
	if len(denial.Required) > 0 {
		payload["requiredPermissions"] = denial.Required
	}

	c.JSON(denial.Status, gin.H{"error": payload})
	c.Abort()
}

// abortInternal mapeia um erro inesperado para 500 INTERNAL_ERROR
func abortInternal(c *gin.Context) {
	abortWithDenial(c, domain.NewDenial(domain.CodeInternalError, "unable to process the request"))
}

// requestID retorna o trace id da requisição, gerando um se necessário
func requestID(c *gin.Context) string {
	if id := c.GetString("request_id"); id != "" {
		return id
	}
	id := c.GetHeader("X-Request-ID")
	if id == "" {
		id = uuid.NewString()
	}
	c.Set("request_id", id)
	c.Header("X-Request-ID", id)
	return id
}

// enrichContext injeta os campos de log no contexto da requisição
func enrichContext(c *gin.Context) context.Context {
	ctx := c.Request.Context()
	ctx = context.WithValue(ctx, logger.RequestIDKey, requestID(c))
	ctx = context.WithValue(ctx, logger.ClientIPKey, GetClientIP(c))
	if principal := GetPrincipal(c); principal != nil {
		ctx = context.WithValue(ctx, logger.PrincipalKey, principal.ID)
	}
	return ctx
}

// SetPrincipal guarda o principal autenticado no contexto do gin
func SetPrincipal(c *gin.Context, principal *domain.Principal) {
	c.Set(principalKey, principal)
}

// GetPrincipal recupera o principal autenticado, ou nil
func GetPrincipal(c *gin.Context) *domain.Principal {
	value, exists := c.Get(principalKey)
	if !exists {
		return nil
	}
	principal, ok := value.(*domain.Principal)
	if !ok {
		return nil
	}
	return principal
}

// GetClientIP extrai o IP real do cliente considerando proxies
func GetClientIP(c *gin.Context) string {
	if forwarded := c.GetHeader("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if ip := strings.TrimSpace(parts[0]); ip != "" {
			return ip
		}
	}
	if realIP := c.GetHeader("X-Real-IP"); realIP != "" {
		return realIP
	}

	host, _, err := net.SplitHostPort(c.Request.RemoteAddr)
	if err != nil {
		return c.Request.RemoteAddr
	}
	return host
}

// GetCountry retorna o país resolvido pela borda, se presente
func GetCountry(c *gin.Context) string {
	if country := c.GetHeader("X-Country-Code"); country != "" {
		return country
	}
	return c.GetHeader("CF-IPCountry")
}

// setRateLimitHeaders adiciona os headers informativos de rate limiting
func setRateLimitHeaders(c *gin.Context, result *domain.RateLimitResult) {
	if result.MatchedRule == nil {
		return
	}
	if result.Limit > 0 {
		c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	}
	if result.Remaining >= 0 {
		c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	}
	c.Header("X-RateLimit-Reset", strconv.FormatInt(result.ResetTime.Unix(), 10))
}

// maskToken mascara credenciais para logs de segurança
func maskToken(token string) string {
	if token == "" {
		return ""
	}
	if len(token) <= 8 {
		return token + "***"
	}
	return token[:8] + "***"
}
