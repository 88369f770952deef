package handler

import (
	"errors"
	"net/http"
	"time"

	"gateway-core/internal/domain"
	"gateway-core/internal/middleware"
	"gateway-core/internal/ratelimit"
	"gateway-core/internal/traffic"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handlers contém os handlers administrativos do gateway
type Handlers struct {
	engine    *ratelimit.Engine
	monitor   *traffic.Monitor
	store     domain.CounterStore
	registry  *prometheus.Registry
	logger    domain.Logger
	startTime time.Time
}

// NewHandlers cria uma nova instância dos handlers
func NewHandlers(engine *ratelimit.Engine, monitor *traffic.Monitor, store domain.CounterStore, registry *prometheus.Registry, logger domain.Logger) *Handlers {
	return &Handlers{
		engine:    engine,
		monitor:   monitor,
		store:     store,
		registry:  registry,
		logger:    logger,
		startTime: time.Now(),
	}
}

// SetupRoutes configura as rotas administrativas. O grupo admin deve vir
// atrás do middleware de autenticação mais o guard de papel admin.
func (h *Handlers) SetupRoutes(router *gin.Engine, authMiddleware *middleware.AuthMiddleware) {
	// Rotas públicas
	router.GET("/health", h.HealthHandler)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.registry, promhttp.HandlerOpts{})))

	// Rotas administrativas
	admin := router.Group("/admin")
	admin.Use(authMiddleware.Authenticate(middleware.AuthOptions{RequireAuth: true}))
	admin.Use(middleware.RequireRole("admin"))
	{
		admin.GET("/rules", h.ListRulesHandler)
		admin.POST("/rules", h.AddRuleHandler)
		admin.GET("/rules/:id", h.GetRuleHandler)
		admin.PUT("/rules/:id", h.UpdateRuleHandler)
		admin.DELETE("/rules/:id", h.DeleteRuleHandler)

		admin.POST("/blocks", h.BlockClientHandler)
		admin.DELETE("/blocks/:clientType/:clientId", h.UnblockClientHandler)

		admin.GET("/access/ip", h.ListIPControlsHandler)
		admin.POST("/access/ip", h.AddIPControlHandler)
		admin.DELETE("/access/ip/:id", h.RemoveIPControlHandler)

		admin.GET("/access/geo", h.ListGeoRestrictionsHandler)
		admin.POST("/access/geo", h.AddGeoRestrictionHandler)
		admin.DELETE("/access/geo/:id", h.RemoveGeoRestrictionHandler)

		admin.GET("/analytics", h.AnalyticsHandler)
		admin.GET("/patterns/:clientType/:clientId", h.PatternHandler)
	}
}

// HealthHandler implementa health check básico incluindo o store
func (h *Handlers) HealthHandler(c *gin.Context) {
	status := "healthy"
	code := http.StatusOK
	if err := h.store.Health(c.Request.Context()); err != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	c.JSON(code, gin.H{
		"status":    status,
		"service":   "Gateway Core",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime":    time.Since(h.startTime).String(),
	})
}

// ListRulesHandler lista as regras de rate limiting
func (h *Handlers) ListRulesHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"rules": h.engine.GetRules()})
}

// AddRuleHandler registra uma nova regra
func (h *Handlers) AddRuleHandler(c *gin.Context) {
	var rule domain.RateLimitRule
	if err := c.ShouldBindJSON(&rule); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid rule payload", "message": err.Error()})
		return
	}

	if err := h.engine.AddRule(&rule); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "rule rejected", "message": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, rule)
}

// GetRuleHandler retorna uma regra pelo id
func (h *Handlers) GetRuleHandler(c *gin.Context) {
	rule := h.engine.GetRule(c.Param("id"))
	if rule == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "rule not found"})
		return
	}
	c.JSON(http.StatusOK, rule)
}

// UpdateRuleHandler atualiza uma regra existente
func (h *Handlers) UpdateRuleHandler(c *gin.Context) {
	var rule domain.RateLimitRule
	if err := c.ShouldBindJSON(&rule); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid rule payload", "message": err.Error()})
		return
	}
	rule.ID = c.Param("id")

	if err := h.engine.UpdateRule(&rule); err != nil {
		if errors.Is(err, domain.ErrRuleNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "rule not found"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "rule rejected", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, rule)
}

// DeleteRuleHandler remove uma regra
func (h *Handlers) DeleteRuleHandler(c *gin.Context) {
	if err := h.engine.DeleteRule(c.Param("id")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "rule not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

// blockRequest é o payload de bloqueio manual de cliente
type blockRequest struct {
	ClientID        string            `json:"clientId" binding:"required"`
	ClientType      domain.ClientType `json:"clientType" binding:"required"`
	Reason          string            `json:"reason"`
	DurationSeconds int               `json:"durationSeconds" binding:"required"`
}

// BlockClientHandler bloqueia um cliente manualmente
func (h *Handlers) BlockClientHandler(c *gin.Context) {
	var req blockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid block payload", "message": err.Error()})
		return
	}

	if req.Reason == "" {
		req.Reason = "manual block"
	}
	if err := h.monitor.BlockClient(req.ClientID, req.ClientType, req.Reason, req.DurationSeconds); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "block failed", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"blocked": true})
}

// UnblockClientHandler remove o bloqueio de um cliente; idempotente
func (h *Handlers) UnblockClientHandler(c *gin.Context) {
	clientType := domain.ClientType(c.Param("clientType"))
	if err := h.monitor.UnblockClient(c.Param("clientId"), clientType); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "unblock failed", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"blocked": false})
}

// ListIPControlsHandler lista as entradas de controle de acesso por IP
func (h *Handlers) ListIPControlsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"entries": h.monitor.GetIPControls()})
}

// AddIPControlHandler registra uma entrada de controle de acesso por IP
func (h *Handlers) AddIPControlHandler(c *gin.Context) {
	var entry domain.IPAccessControl
	if err := c.ShouldBindJSON(&entry); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid entry payload", "message": err.Error()})
		return
	}

	if err := h.monitor.AddIPControl(&entry); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "entry rejected", "message": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, entry)
}

// RemoveIPControlHandler remove uma entrada de controle de acesso por IP
func (h *Handlers) RemoveIPControlHandler(c *gin.Context) {
	if err := h.monitor.RemoveIPControl(c.Param("id")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "entry not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

// ListGeoRestrictionsHandler lista as restrições geográficas
func (h *Handlers) ListGeoRestrictionsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"restrictions": h.monitor.GetGeoRestrictions()})
}

// AddGeoRestrictionHandler registra uma restrição geográfica
func (h *Handlers) AddGeoRestrictionHandler(c *gin.Context) {
	var restriction domain.GeographicRestriction
	if err := c.ShouldBindJSON(&restriction); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid restriction payload", "message": err.Error()})
		return
	}

	if err := h.monitor.AddGeoRestriction(&restriction); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "restriction rejected", "message": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, restriction)
}

// RemoveGeoRestrictionHandler remove uma restrição geográfica
func (h *Handlers) RemoveGeoRestrictionHandler(c *gin.Context) {
	if err := h.monitor.RemoveGeoRestriction(c.Param("id")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "restriction not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

// AnalyticsHandler retorna os agregados diários de tráfego
func (h *Handlers) AnalyticsHandler(c *gin.Context) {
	analytics, err := h.monitor.GetAnalytics(c.Request.Context(), c.Query("date"))
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "analytics unavailable", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, analytics)
}

// PatternHandler retorna o perfil comportamental de um cliente
func (h *Handlers) PatternHandler(c *gin.Context) {
	pattern := h.monitor.GetPattern(c.Param("clientId"), domain.ClientType(c.Param("clientType")))
	if pattern == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "pattern not found"})
		return
	}
	c.JSON(http.StatusOK, pattern)
}
