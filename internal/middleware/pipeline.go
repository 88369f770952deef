package middleware

import (
	"time"

	"gateway-core/internal/domain"
	"gateway-core/internal/metrics"
	"gateway-core/internal/ratelimit"
	"gateway-core/internal/traffic"

	"github.com/gin-gonic/gin"
)

// Pipeline compõe as etapas de decisão do gateway na ordem fixa:
// autenticação, autorização (guards por rota), controle de tráfego e
// rate limiting. O registro no monitor acontece após a resposta.
type Pipeline struct {
	authMiddleware *AuthMiddleware
	monitor        *traffic.Monitor
	engine         *ratelimit.Engine
	metrics        *metrics.Metrics
	logger         domain.Logger
}

// NewPipeline cria uma nova instância do pipeline
func NewPipeline(authMiddleware *AuthMiddleware, monitor *traffic.Monitor, engine *ratelimit.Engine, m *metrics.Metrics, logger domain.Logger) *Pipeline {
	return &Pipeline{
		authMiddleware: authMiddleware,
		monitor:        monitor,
		engine:         engine,
		metrics:        m,
		logger:         logger,
	}
}

// Handlers retorna a cadeia de middlewares na ordem de avaliação. Os
// guards de autorização da rota entram entre a autenticação e o controle
// de tráfego: uma negação de autorização não consome orçamento de rate
// limit.
func (p *Pipeline) Handlers(opts AuthOptions, guards ...gin.HandlerFunc) []gin.HandlerFunc {
	chain := make([]gin.HandlerFunc, 0, len(guards)+3)
	chain = append(chain, p.authMiddleware.Authenticate(opts))
	chain = append(chain, guards...)
	chain = append(chain, p.TrafficControl(), p.RateLimit())
	return chain
}

// TrafficControl aplica bloqueios de cliente, listas de IP e restrições
// geográficas, e agenda o registro assíncrono da requisição
func (p *Pipeline) TrafficControl() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := enrichContext(c)
		log := p.logger.WithContext(ctx)

		clientID, clientType := clientIdentity(c)
		ip := GetClientIP(c)
		country := GetCountry(c)

		if result := p.monitor.CheckIPAccess(ip); !result.Allowed {
			log.Info("Request denied by IP access control", map[string]interface{}{
				"ip":     ip,
				"reason": result.Reason,
			})
			p.deny(c, domain.NewDenial(domain.CodeIPAccessDenied, "source address is not allowed"))
			return
		}

		if result := p.monitor.CheckGeoAccess(ip, country); !result.Allowed {
			log.Info("Request denied by geographic restriction", map[string]interface{}{
				"ip":      ip,
				"country": country,
				"reason":  result.Reason,
			})
			p.deny(c, domain.NewDenial(domain.CodeGeoRestricted, "requests from this region are not allowed"))
			return
		}

		if p.monitor.IsClientBlocked(ctx, clientID, clientType) {
			log.Info("Request denied for blocked client", map[string]interface{}{
				"client_id":   clientID,
				"client_type": clientType,
			})
			p.deny(c, domain.NewDenial(domain.CodeClientBlocked, "client is temporarily blocked"))
			return
		}

		c.Next()

		// Registro fire-and-forget para o scoring futuro
		p.monitor.RecordRequest(domain.RequestMeta{
			ClientID:   clientID,
			ClientType: clientType,
			IP:         ip,
			Country:    country,
			Endpoint:   c.Request.URL.Path,
			Method:     c.Request.Method,
			UserAgent:  c.Request.UserAgent(),
			StatusCode: c.Writer.Status(),
			Timestamp:  time.Now(),
		})
	}
}

// RateLimit avalia as regras de rate limiting para o contexto da
// requisição. Erros do store resultam em fail-open dentro do engine.
func (p *Pipeline) RateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := enrichContext(c)
		log := p.logger.WithContext(ctx)

		clientID, clientType := clientIdentity(c)
		reqCtx := &domain.RateLimitContext{
			ClientID:   clientID,
			ClientType: clientType,
			Endpoint:   c.Request.URL.Path,
			Method:     c.Request.Method,
			Headers:    flattenHeaders(c),
			Query:      flattenQuery(c),
			IP:         GetClientIP(c),
			Timestamp:  time.Now(),
			Principal:  GetPrincipal(c),
		}

		result, err := p.engine.CheckRateLimit(ctx, reqCtx)
		if err != nil {
			log.Error("Rate limit evaluation failed", err, nil)
			p.metrics.RecordDecision(false, domain.CodeInternalError)
			abortInternal(c)
			return
		}

		setRateLimitHeaders(c, result)

		if !result.Allowed {
			denial := domain.NewDenial(domain.CodeRateLimitExceeded, "request rate limit exceeded")
			if result.Burst {
				denial = domain.NewDenial(domain.CodeBurstLimitExceeded, "burst rate limit exceeded")
			}
			denial.RetryAfter = result.RetryAfter
			log.Info("Request rate limited", map[string]interface{}{
				"client_id":   clientID,
				"client_type": clientType,
				"retry_after": result.RetryAfter,
			})
			p.deny(c, denial)
			return
		}

		p.metrics.RecordDecision(true, "")
		c.Next()
	}
}

// deny registra a métrica e emite a negação
func (p *Pipeline) deny(c *gin.Context, denial *domain.DenialError) {
	p.metrics.RecordDecision(false, denial.Code)
	abortWithDenial(c, denial)
}

// clientIdentity deriva a identidade do cliente para contadores e
// bloqueios: o principal autenticado quando existe, senão o IP
func clientIdentity(c *gin.Context) (string, domain.ClientType) {
	principal := GetPrincipal(c)
	if principal == nil {
		return GetClientIP(c), domain.IPClient
	}
	if principal.AuthType == domain.APIKeyAuth {
		return principal.ID, domain.APIKeyClient
	}
	return principal.ID, domain.UserClient
}

func flattenHeaders(c *gin.Context) map[string]string {
	headers := make(map[string]string, len(c.Request.Header))
	for key, values := range c.Request.Header {
		if len(values) > 0 {
			headers[key] = values[0]
		}
	}
	return headers
}

func flattenQuery(c *gin.Context) map[string]string {
	query := make(map[string]string)
	for key, values := range c.Request.URL.Query() {
		if len(values) > 0 {
			query[key] = values[0]
		}
	}
	return query
}
