package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config representa todas as configurações da aplicação
type Config struct {
	// Redis Configuration
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// Server Configuration
	ServerPort string
	GinMode    string

	// Logging Configuration
	LogLevel  string
	LogFormat string

	// JWT Configuration
	JWTSecret string
	JWTExpiry int // em segundos

	// Colaboradores externos de validação (vazio desabilita a estratégia)
	APIKeyLookupURL    string
	OAuthIntrospectURL string

	// Caminhos públicos que não exigem autenticação
	PublicPaths []string

	// Rate Limiting Configuration
	GlobalWindow      int // em segundos
	GlobalMax         int
	UserWindow        int
	UserMax           int
	AuthEndpointMax   int // limite mais apertado para endpoints de autenticação
	BurstThreshold    int
	BurstBlockSeconds int

	// Adaptive Rate Limiting Configuration
	AdaptiveBaseLimit        int
	AdaptiveMaxLimit         int
	AdaptiveAdjustmentFactor float64

	// Traffic Monitoring Configuration
	RapidRequestThreshold float64 // requisições por segundo
	GeoCountryThreshold   int
	UserAgentThreshold    int
	AutoBlockEnabled      bool
	AutoBlockThreshold    float64
	AutoBlockDuration     int // em segundos
	RetentionHours        int
	RecordQueueSize       int
}

// Load carrega as configurações do .env e das variáveis de ambiente
func Load() (*Config, error) {
	// Carrega o arquivo .env se existir
	if err := godotenv.Load(); err != nil {
		fmt.Println("Warning: .env file not found, using system environment variables")
	}

	config := &Config{
		// Redis defaults
		RedisHost:     getEnvWithDefault("REDIS_HOST", "localhost"),
		RedisPort:     getEnvWithDefault("REDIS_PORT", "6379"),
		RedisPassword: getEnvWithDefault("REDIS_PASSWORD", ""),

		// Server defaults
		ServerPort: getEnvWithDefault("SERVER_PORT", "8080"),
		GinMode:    getEnvWithDefault("GIN_MODE", "debug"),

		// Logging defaults
		LogLevel:  getEnvWithDefault("LOG_LEVEL", "info"),
		LogFormat: getEnvWithDefault("LOG_FORMAT", "json"),

		// JWT defaults
		JWTSecret: getEnvWithDefault("JWT_SECRET", "change-me-in-production"),

		// Colaboradores externos
		APIKeyLookupURL:    getEnvWithDefault("API_KEY_LOOKUP_URL", ""),
		OAuthIntrospectURL: getEnvWithDefault("OAUTH_INTROSPECT_URL", ""),
	}

	// Caminhos públicos separados por vírgula
	publicPaths := getEnvWithDefault("PUBLIC_PATHS", "/health,/metrics")
	for _, p := range strings.Split(publicPaths, ",") {
		if p = strings.TrimSpace(p); p != "" {
			config.PublicPaths = append(config.PublicPaths, p)
		}
	}

	var err error
	intFields := []struct {
		dst        *int
		key        string
		defaultsTo string
	}{
		{&config.RedisDB, "REDIS_DB", "0"},
		{&config.JWTExpiry, "JWT_EXPIRY", "3600"},
		{&config.GlobalWindow, "GLOBAL_RATE_WINDOW", "60"},
		{&config.GlobalMax, "GLOBAL_RATE_MAX", "1000"},
		{&config.UserWindow, "USER_RATE_WINDOW", "60"},
		{&config.UserMax, "USER_RATE_MAX", "100"},
		{&config.AuthEndpointMax, "AUTH_ENDPOINT_RATE_MAX", "10"},
		{&config.BurstThreshold, "BURST_THRESHOLD", "50"},
		{&config.BurstBlockSeconds, "BURST_BLOCK_DURATION", "300"},
		{&config.AdaptiveBaseLimit, "ADAPTIVE_BASE_LIMIT", "100"},
		{&config.AdaptiveMaxLimit, "ADAPTIVE_MAX_LIMIT", "1000"},
		{&config.GeoCountryThreshold, "GEO_COUNTRY_THRESHOLD", "3"},
		{&config.UserAgentThreshold, "USER_AGENT_THRESHOLD", "5"},
		{&config.AutoBlockDuration, "AUTO_BLOCK_DURATION", "3600"},
		{&config.RetentionHours, "TRAFFIC_RETENTION_HOURS", "24"},
		{&config.RecordQueueSize, "RECORD_QUEUE_SIZE", "1024"},
	}
	for _, f := range intFields {
		*f.dst, err = strconv.Atoi(getEnvWithDefault(f.key, f.defaultsTo))
		if err != nil {
			return nil, fmt.Errorf("invalid %s value: %w", f.key, err)
		}
	}

	config.AdaptiveAdjustmentFactor, err = strconv.ParseFloat(getEnvWithDefault("ADAPTIVE_ADJUSTMENT_FACTOR", "0.1"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid ADAPTIVE_ADJUSTMENT_FACTOR value: %w", err)
	}

	config.RapidRequestThreshold, err = strconv.ParseFloat(getEnvWithDefault("RAPID_REQUEST_THRESHOLD", "10"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid RAPID_REQUEST_THRESHOLD value: %w", err)
	}

	config.AutoBlockThreshold, err = strconv.ParseFloat(getEnvWithDefault("AUTO_BLOCK_THRESHOLD", "80"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid AUTO_BLOCK_THRESHOLD value: %w", err)
	}

	config.AutoBlockEnabled, err = strconv.ParseBool(getEnvWithDefault("AUTO_BLOCK_ENABLED", "true"))
	if err != nil {
		return nil, fmt.Errorf("invalid AUTO_BLOCK_ENABLED value: %w", err)
	}

	// Valida configurações obrigatórias
	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// validateConfig valida se as configurações são válidas
func validateConfig(config *Config) error {
	if config.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET must not be empty")
	}

	if config.GlobalWindow <= 0 || config.UserWindow <= 0 {
		return fmt.Errorf("rate windows must be greater than 0")
	}

	if config.GlobalMax <= 0 || config.UserMax <= 0 || config.AuthEndpointMax <= 0 {
		return fmt.Errorf("rate maxima must be greater than 0")
	}

	if config.BurstThreshold <= 0 {
		return fmt.Errorf("BURST_THRESHOLD must be greater than 0")
	}

	if config.AutoBlockThreshold <= 0 || config.AutoBlockThreshold > 100 {
		return fmt.Errorf("AUTO_BLOCK_THRESHOLD must be between 0 and 100")
	}

	if config.RetentionHours <= 0 {
		return fmt.Errorf("TRAFFIC_RETENTION_HOURS must be greater than 0")
	}

	if config.RecordQueueSize <= 0 {
		return fmt.Errorf("RECORD_QUEUE_SIZE must be greater than 0")
	}

	if config.RedisDB < 0 || config.RedisDB > 15 {
		return fmt.Errorf("REDIS_DB must be between 0 and 15")
	}

	return nil
}

// getEnvWithDefault retorna o valor da variável de ambiente ou um valor padrão
func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
