package domain

import "time"

// ClientType define os tipos de cliente sujeitos a rate limiting
type ClientType string

const (
	UserClient         ClientType = "user"
	OrganizationClient ClientType = "organization"
	APIKeyClient       ClientType = "api_key"
	IPClient           ClientType = "ip"
)

// LimitAction define a ação tomada quando um limite é excedido
type LimitAction string

const (
	ThrottleAction LimitAction = "throttle"
	BlockAction    LimitAction = "block"
	QueueAction    LimitAction = "queue"
)

// AuthType define o esquema de autenticação que produziu o principal
type AuthType string

const (
	JWTAuth    AuthType = "jwt"
	OAuthAuth  AuthType = "oauth"
	APIKeyAuth AuthType = "api_key"
)

// ConditionOperator define os operadores suportados em condições
type ConditionOperator string

const (
	OpEquals      ConditionOperator = "equals"
	OpNotEquals   ConditionOperator = "not_equals"
	OpIn          ConditionOperator = "in"
	OpNotIn       ConditionOperator = "not_in"
	OpContains    ConditionOperator = "contains"
	OpGreaterThan ConditionOperator = "greater_than"
	OpLessThan    ConditionOperator = "less_than"
	OpRegex       ConditionOperator = "regex"
	OpInRange     ConditionOperator = "in_range"
)

// Condition define uma condição avaliada contra o contexto da requisição
// ou contra o principal autenticado. Value pode conter templates do tipo
// ${user.id} resolvidos antes da comparação.
type Condition struct {
	Type     string            `json:"type"`
	Field    string            `json:"field,omitempty"`
	Operator ConditionOperator `json:"operator"`
	Value    interface{}       `json:"value"`
}

// RateLimitRule define uma regra declarativa de rate limiting
type RateLimitRule struct {
	ID                string      `json:"id"`
	Name              string      `json:"name"`
	ClientType        ClientType  `json:"clientType"`
	Endpoints         []string    `json:"endpoints"` // padrões glob, segmento "*" suportado
	Methods           []string    `json:"methods"`   // "*" ou verbos explícitos
	RequestsPerSecond int         `json:"requestsPerSecond,omitempty"`
	RequestsPerMinute int         `json:"requestsPerMinute,omitempty"`
	RequestsPerHour   int         `json:"requestsPerHour,omitempty"`
	RequestsPerDay    int         `json:"requestsPerDay,omitempty"`
	BurstSize         int         `json:"burstSize,omitempty"` // máximo em janela deslizante de 10s
	AdaptiveBaseLimit int         `json:"adaptiveBaseLimit,omitempty"`
	AdaptiveMaxLimit  int         `json:"adaptiveMaxLimit,omitempty"`
	AdaptiveFactor    float64     `json:"adaptiveFactor,omitempty"` // crescimento por requisição limpa
	Action            LimitAction `json:"action"`
	BlockDuration     int         `json:"blockDuration,omitempty"` // em segundos
	Conditions        []Condition `json:"conditions,omitempty"`
	IsActive          bool        `json:"isActive"`
	CreatedAt         time.Time   `json:"createdAt"`
	UpdatedAt         time.Time   `json:"updatedAt"`
}

// HasRateField verifica se pelo menos um campo de taxa foi configurado
func (r *RateLimitRule) HasRateField() bool {
	return r.RequestsPerSecond > 0 || r.RequestsPerMinute > 0 ||
		r.RequestsPerHour > 0 || r.RequestsPerDay > 0 || r.AdaptiveBaseLimit > 0
}

// RateLimitContext representa o contexto imutável de uma requisição
type RateLimitContext struct {
	ClientID   string            `json:"clientId"`
	ClientType ClientType        `json:"clientType"`
	Endpoint   string            `json:"endpoint"`
	Method     string            `json:"method"`
	Headers    map[string]string `json:"headers"`
	Query      map[string]string `json:"query"`
	Body       map[string]string `json:"body,omitempty"`
	IP         string            `json:"ip"`
	Timestamp  time.Time         `json:"timestamp"`
	Principal  *Principal        `json:"-"`
}

// RateLimitResult representa o resultado de uma verificação de rate limit
type RateLimitResult struct {
	Allowed     bool           `json:"allowed"`
	Limit       int            `json:"limit,omitempty"` // limite da janela vinculante
	Remaining   int            `json:"remaining"`       // -1 indica sem limite aplicável
	ResetTime   time.Time      `json:"resetTime"`
	RetryAfter  int            `json:"retryAfter,omitempty"` // em segundos
	Burst       bool           `json:"burst,omitempty"`
	MatchedRule *RateLimitRule `json:"matchedRule,omitempty"`
}

// ActivityType define os tipos de atividade suspeita detectáveis
type ActivityType string

const (
	RapidRequests     ActivityType = "rapid_requests"
	GeographicAnomaly ActivityType = "geographic_anomaly"
	UserAgentRotation ActivityType = "user_agent_rotation"
	EndpointScanning  ActivityType = "endpoint_scanning"
	ErrorRateSpike    ActivityType = "error_rate_spike"
	UnusualTiming     ActivityType = "unusual_timing"
)

// Severity define a severidade de uma atividade suspeita
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// SuspiciousActivity registra uma detecção de comportamento anômalo
type SuspiciousActivity struct {
	Type        ActivityType           `json:"type"`
	Severity    Severity               `json:"severity"`
	Description string                 `json:"description"`
	Timestamp   time.Time              `json:"timestamp"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// TimeWindow agrega contadores de um bucket de 5 minutos
type TimeWindow struct {
	Start        time.Time `json:"start"`
	RequestCount int       `json:"requestCount"`
	ErrorCount   int       `json:"errorCount"`
}

// TrafficPattern mantém o perfil comportamental de um cliente
type TrafficPattern struct {
	ClientID     string               `json:"clientId"`
	ClientType   ClientType           `json:"clientType"`
	RequestCount int64                `json:"requestCount"`
	FirstSeen    time.Time            `json:"firstSeen"`
	LastSeen     time.Time            `json:"lastSeen"`
	PerSecond    float64              `json:"perSecond"`
	PerMinute    float64              `json:"perMinute"`
	PerHour      float64              `json:"perHour"`
	Countries    map[string]struct{}  `json:"-"`
	Regions      map[string]struct{}  `json:"-"`
	IPs          map[string]struct{}  `json:"-"`
	Endpoints    map[string]struct{}  `json:"-"`
	Methods      map[string]struct{}  `json:"-"`
	UserAgents   map[string]struct{}  `json:"-"`
	Windows      []TimeWindow         `json:"windows"`
	AnomalyScore float64              `json:"anomalyScore"`
	Activities   []SuspiciousActivity `json:"activities"`
	IsBlocked    bool                 `json:"isBlocked"`
	BlockReason  string               `json:"blockReason,omitempty"`
	BlockExpiry  *time.Time           `json:"blockExpiry,omitempty"`
}

// RequestMeta carrega os metadados de uma requisição para o monitor de tráfego
type RequestMeta struct {
	ClientID   string     `json:"clientId"`
	ClientType ClientType `json:"clientType"`
	IP         string     `json:"ip"`
	Country    string     `json:"country,omitempty"`
	Region     string     `json:"region,omitempty"`
	Endpoint   string     `json:"endpoint"`
	Method     string     `json:"method"`
	UserAgent  string     `json:"userAgent,omitempty"`
	StatusCode int        `json:"statusCode"`
	Timestamp  time.Time  `json:"timestamp"`
}

// RestrictionType define o efeito de uma restrição geográfica
type RestrictionType string

const (
	AllowRestriction RestrictionType = "allow"
	BlockRestriction RestrictionType = "block"
)

// GeographicRestriction define uma restrição por país/região
type GeographicRestriction struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Type      RestrictionType `json:"type"`
	Countries []string        `json:"countries"`
	Regions   []string        `json:"regions,omitempty"`
	IPRanges  []string        `json:"ipRanges,omitempty"`
	IsActive  bool            `json:"isActive"`
}

// AccessListType define o efeito de uma entrada de controle de acesso por IP
type AccessListType string

const (
	Whitelist AccessListType = "whitelist"
	Blacklist AccessListType = "blacklist"
)

// IPAccessControl define uma entrada estática de allow/deny por IP.
// Entradas expiradas ou inativas são ignoradas.
type IPAccessControl struct {
	ID        string         `json:"id"`
	IPAddress string         `json:"ipAddress"`
	Type      AccessListType `json:"type"`
	Reason    string         `json:"reason"`
	ExpiresAt *time.Time     `json:"expiresAt,omitempty"`
	IsActive  bool           `json:"isActive"`
}

// Expired verifica se a entrada já expirou
func (a *IPAccessControl) Expired(now time.Time) bool {
	return a.ExpiresAt != nil && now.After(*a.ExpiresAt)
}

// IPAccessResult representa o resultado de uma verificação de acesso por IP
type IPAccessResult struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// Principal representa a identidade autenticada de uma requisição.
// Criado por requisição, nunca persistido.
type Principal struct {
	ID             string   `json:"id"`
	Email          string   `json:"email"`
	Role           string   `json:"role"`
	OrganizationID string   `json:"organizationId,omitempty"`
	Scopes         []string `json:"scopes"`
	ClientID       string   `json:"clientId,omitempty"`
	AuthType       AuthType `json:"authType"`
}

// HasScope verifica se o principal possui um escopo específico
func (p *Principal) HasScope(scope string) bool {
	for _, s := range p.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Permission associa um recurso e uma ação, com condições opcionais.
// "*" em resource ou action funciona como curinga.
type Permission struct {
	Resource   string      `json:"resource"`
	Action     string      `json:"action"`
	Conditions []Condition `json:"conditions,omitempty"`
}

// Role define um papel do RBAC com herança via Inherits (DAG)
type Role struct {
	ID             string       `json:"id"`
	Name           string       `json:"name"`
	Permissions    []Permission `json:"permissions"`
	Inherits       []string     `json:"inherits,omitempty"`
	IsSystemRole   bool         `json:"isSystemRole"`
	OrganizationID string       `json:"organizationId,omitempty"`
}

// APIKeyInfo representa os metadados de uma API key retornados pelo lookup externo
type APIKeyInfo struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	ClientID  string                 `json:"clientId"`
	Scopes    []string               `json:"scopes"`
	RateLimit int                    `json:"rateLimit,omitempty"`
	IsActive  bool                   `json:"isActive"`
	ExpiresAt *time.Time             `json:"expiresAt,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// IntrospectionResult representa a resposta de introspecção OAuth
type IntrospectionResult struct {
	Active   bool   `json:"active"`
	ClientID string `json:"client_id"`
	Username string `json:"username,omitempty"`
	Scope    string `json:"scope,omitempty"`
	Exp      int64  `json:"exp,omitempty"`
	Iat      int64  `json:"iat,omitempty"`
	Sub      string `json:"sub,omitempty"`
}

// TrafficAnalytics agrega contadores diários do monitor de tráfego
type TrafficAnalytics struct {
	Date            string           `json:"date"`
	TotalRequests   int64            `json:"totalRequests"`
	BlockedRequests int64            `json:"blockedRequests"`
	UniqueClients   int64            `json:"uniqueClients"`
	ByCountry       map[string]int64 `json:"byCountry,omitempty"`
	ByEndpoint      map[string]int64 `json:"byEndpoint,omitempty"`
}
