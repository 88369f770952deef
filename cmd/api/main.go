package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"gateway-core/internal/auth"
	"gateway-core/internal/authz"
	"gateway-core/internal/config"
	"gateway-core/internal/domain"
	"gateway-core/internal/handler"
	"gateway-core/internal/logger"
	"gateway-core/internal/metrics"
	"gateway-core/internal/middleware"
	"gateway-core/internal/ratelimit"
	"gateway-core/internal/storage"
	"gateway-core/internal/traffic"
)

func main() {
	// Carregar configurações
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Inicializar logger
	appLogger := logger.NewLogger(cfg.LogLevel, cfg.LogFormat)
	appLogger.Info("Starting Gateway Core", map[string]interface{}{
		"log_level": cfg.LogLevel,
		"port":      cfg.ServerPort,
	})

	// Inicializar counter store: Redis, com fallback em memória para
	// desenvolvimento local
	var store domain.CounterStore
	redisStore, err := storage.NewRedisStore(cfg.RedisHost, cfg.RedisPort, cfg.RedisPassword, cfg.RedisDB, appLogger)
	if err != nil {
		appLogger.Warn("Redis unavailable, using memory store", map[string]interface{}{
			"error": err.Error(),
		})
		store = storage.NewMemoryStore(appLogger)
	} else {
		store = redisStore
	}

	// Colaboradores externos de validação
	var keyLookup domain.APIKeyLookup
	if cfg.APIKeyLookupURL != "" {
		keyLookup = auth.NewHTTPKeyLookup(cfg.APIKeyLookupURL)
	}
	var introspector domain.OAuthIntrospector
	if cfg.OAuthIntrospectURL != "" {
		introspector = auth.NewHTTPIntrospector(cfg.OAuthIntrospectURL)
	}

	// Inicializar serviços do pipeline
	engine := ratelimit.NewEngine(store, appLogger)
	if err := engine.SeedDefaultRules(cfg); err != nil {
		appLogger.Error("Failed to seed default rules", err, nil)
		os.Exit(1)
	}

	monitor := traffic.NewMonitor(store, cfg, appLogger)
	authenticator := auth.NewAuthenticator(cfg, keyLookup, introspector, appLogger)
	authorizer, err := authz.NewAuthorizer(appLogger)
	if err != nil {
		appLogger.Error("Failed to build authorizer", err, nil)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	gatewayMetrics := metrics.New(registry)
	monitor.SetScoreObserver(gatewayMetrics.ObserveAnomalyScore)

	authMiddleware := middleware.NewAuthMiddleware(authenticator, appLogger)
	pipeline := middleware.NewPipeline(authMiddleware, monitor, engine, gatewayMetrics, appLogger)

	// Configurar Gin
	if cfg.GinMode == "release" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	// Rotas administrativas e de observabilidade
	handlers := handler.NewHandlers(engine, monitor, store, registry, appLogger)
	handlers.SetupRoutes(router, authMiddleware)

	// Grupo protegido pelo pipeline completo; os serviços de negócio
	// atrás do gateway são montados aqui pelos consumidores. Cada rota
	// recebe a cadeia inteira para que os guards de autorização rodem
	// antes do controle de tráfego e do rate limiting.
	authOpts := middleware.AuthOptions{RequireAuth: true}
	protected := router.Group("/api")
	{
		protected.GET("/whoami", append(pipeline.Handlers(authOpts),
			func(c *gin.Context) {
				c.JSON(http.StatusOK, gin.H{"principal": middleware.GetPrincipal(c)})
			})...)
		protected.GET("/users/:user_id/profile", append(pipeline.Handlers(authOpts,
			middleware.RequirePermission(authorizer, "profile", "read")),
			func(c *gin.Context) {
				c.JSON(http.StatusOK, gin.H{"user_id": c.Param("user_id")})
			})...)
	}

	// Configurar servidor HTTP
	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Iniciar servidor em goroutine
	go func() {
		appLogger.Info("Starting HTTP server", map[string]interface{}{
			"addr": server.Addr,
		})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Error("Failed to start server", err, nil)
			os.Exit(1)
		}
	}()

	// Aguardar sinais de interrupção
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLogger.Info("Shutting down server...", nil)

	// Graceful shutdown: servidor, timers e conexões
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		appLogger.Error("Server forced to shutdown", err, nil)
	}

	monitor.Stop()
	authenticator.Stop()
	authorizer.Stop()
	if err := store.Close(); err != nil {
		appLogger.Error("Failed to close store", err, nil)
	}

	appLogger.Info("Server stopped gracefully", nil)
}
