package ratelimit

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"gateway-core/internal/config"
	"gateway-core/internal/domain"

	"github.com/google/uuid"
)

// janela deslizante usada pelo burst check
const burstWindow = 10 * time.Second

// retenção do histórico de comportamento limpo usado pelo limite adaptativo
const adaptiveMemory = time.Hour

const adaptiveWindowName = "adaptive"

// limitWindow descreve uma janela fixa configurada em uma regra
type limitWindow struct {
	name  string
	ttl   time.Duration
	limit int
}

// Engine avalia regras declarativas de rate limiting contra o contexto da
// requisição, usando o counter store compartilhado entre instâncias
type Engine struct {
	store  domain.CounterStore
	logger domain.Logger
	rules  map[string]*domain.RateLimitRule
	mutex  sync.RWMutex
}

// NewEngine cria uma nova instância do Engine
func NewEngine(store domain.CounterStore, logger domain.Logger) *Engine {
	return &Engine{
		store:  store,
		logger: logger,
		rules:  make(map[string]*domain.RateLimitRule),
	}
}

// SeedDefaultRules registra as regras padrão derivadas da configuração
func (e *Engine) SeedDefaultRules(cfg *config.Config) error {
	defaults := []*domain.RateLimitRule{
		{
			ID:                "global-ip",
			Name:              "Global IP backstop",
			ClientType:        domain.IPClient,
			Endpoints:         []string{"*"},
			Methods:           []string{"*"},
			RequestsPerMinute: cfg.GlobalMax,
			BurstSize:         cfg.BurstThreshold,
			Action:            domain.BlockAction,
			BlockDuration:     cfg.BurstBlockSeconds,
			IsActive:          true,
		},
		{
			ID:                "user-default",
			Name:              "Default per-user limit",
			ClientType:        domain.UserClient,
			Endpoints:         []string{"*"},
			Methods:           []string{"*"},
			RequestsPerMinute: cfg.UserMax,
			Action:            domain.ThrottleAction,
			IsActive:          true,
		},
		{
			ID:                "org-adaptive",
			Name:              "Adaptive per-organization limit",
			ClientType:        domain.OrganizationClient,
			Endpoints:         []string{"*"},
			Methods:           []string{"*"},
			AdaptiveBaseLimit: cfg.AdaptiveBaseLimit,
			AdaptiveMaxLimit:  cfg.AdaptiveMaxLimit,
			AdaptiveFactor:    cfg.AdaptiveAdjustmentFactor,
			Action:            domain.ThrottleAction,
			IsActive:          true,
		},
		{
			ID:                "auth-endpoints",
			Name:              "Authentication endpoint limit",
			ClientType:        domain.IPClient,
			Endpoints:         []string{"/api/auth/*"},
			Methods:           []string{"POST"},
			RequestsPerMinute: cfg.AuthEndpointMax,
			Action:            domain.BlockAction,
			BlockDuration:     cfg.BurstBlockSeconds,
			IsActive:          true,
		},
	}

	for _, rule := range defaults {
		if err := e.AddRule(rule); err != nil {
			return fmt.Errorf("failed to seed rule %s: %w", rule.ID, err)
		}
	}
	return nil
}

// AddRule valida e registra uma nova regra
func (e *Engine) AddRule(rule *domain.RateLimitRule) error {
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	if err := validateRule(rule); err != nil {
		return err
	}

	now := time.Now()
	rule.CreatedAt = now
	rule.UpdatedAt = now

	e.mutex.Lock()
	defer e.mutex.Unlock()

	ruleCopy := *rule
	e.rules[rule.ID] = &ruleCopy

	e.logger.Info("Rate limit rule added", map[string]interface{}{
		"rule_id":     rule.ID,
		"rule_name":   rule.Name,
		"client_type": rule.ClientType,
	})
	return nil
}

// UpdateRule substitui uma regra existente preservando CreatedAt
func (e *Engine) UpdateRule(rule *domain.RateLimitRule) error {
	if err := validateRule(rule); err != nil {
		return err
	}

	e.mutex.Lock()
	defer e.mutex.Unlock()

	existing, exists := e.rules[rule.ID]
	if !exists {
		return domain.ErrRuleNotFound
	}

	ruleCopy := *rule
	ruleCopy.CreatedAt = existing.CreatedAt
	ruleCopy.UpdatedAt = time.Now()
	e.rules[rule.ID] = &ruleCopy

	e.logger.Info("Rate limit rule updated", map[string]interface{}{
		"rule_id": rule.ID,
	})
	return nil
}

// DeleteRule remove uma regra
func (e *Engine) DeleteRule(id string) error {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if _, exists := e.rules[id]; !exists {
		return domain.ErrRuleNotFound
	}
	delete(e.rules, id)

	e.logger.Info("Rate limit rule deleted", map[string]interface{}{
		"rule_id": id,
	})
	return nil
}

// GetRule retorna uma cópia de uma regra, ou nil se não existir
func (e *Engine) GetRule(id string) *domain.RateLimitRule {
	e.mutex.RLock()
	defer e.mutex.RUnlock()

	rule, exists := e.rules[id]
	if !exists {
		return nil
	}
	ruleCopy := *rule
	return &ruleCopy
}

// GetRules retorna cópias de todas as regras registradas
func (e *Engine) GetRules() []*domain.RateLimitRule {
	e.mutex.RLock()
	defer e.mutex.RUnlock()

	rules := make([]*domain.RateLimitRule, 0, len(e.rules))
	for _, rule := range e.rules {
		ruleCopy := *rule
		rules = append(rules, &ruleCopy)
	}
	return rules
}

// CheckRateLimit avalia a regra mais restritiva aplicável ao contexto.
// Qualquer erro de comunicação com o store resulta em fail-open: a
// disponibilidade do gateway vale mais que a aplicação estrita do limite.
func (e *Engine) CheckRateLimit(ctx context.Context, reqCtx *domain.RateLimitContext) (*domain.RateLimitResult, error) {
	matched := e.selectRules(reqCtx)
	if len(matched) == 0 {
		return &domain.RateLimitResult{Allowed: true, Remaining: -1, ResetTime: reqCtx.Timestamp}, nil
	}

	rule := matched[0]
	result, err := e.evaluateRule(ctx, rule, reqCtx)
	if err != nil {
		e.logger.Warn("Rate limit store error, failing open", map[string]interface{}{
			"rule_id":   rule.ID,
			"client_id": reqCtx.ClientID,
			"error":     err.Error(),
		})
		return &domain.RateLimitResult{Allowed: true, Remaining: -1, ResetTime: reqCtx.Timestamp}, nil
	}
	return result, nil
}

// selectRules filtra as regras ativas aplicáveis e ordena da mais
// restritiva (menor taxa por minuto implícita) para a menos restritiva
func (e *Engine) selectRules(reqCtx *domain.RateLimitContext) []*domain.RateLimitRule {
	e.mutex.RLock()
	defer e.mutex.RUnlock()

	var matched []*domain.RateLimitRule
	for _, rule := range e.rules {
		if !rule.IsActive {
			continue
		}
		if !ruleAppliesTo(rule, reqCtx) {
			continue
		}
		if !matchesEndpoint(rule.Endpoints, reqCtx.Endpoint) {
			continue
		}
		if !matchesMethod(rule.Methods, reqCtx.Method) {
			continue
		}
		if !evaluateConditions(rule.Conditions, reqCtx) {
			continue
		}
		matched = append(matched, rule)
	}

	sort.Slice(matched, func(i, j int) bool {
		return impliedPerMinute(matched[i]) < impliedPerMinute(matched[j])
	})
	return matched
}

// ruleAppliesTo decide se o escopo da regra cobre o contexto. Regras de
// IP são backstops globais e casam com qualquer cliente; regras de
// organização casam com qualquer principal que pertença a uma organização
func ruleAppliesTo(rule *domain.RateLimitRule, reqCtx *domain.RateLimitContext) bool {
	if rule.ClientType == reqCtx.ClientType || rule.ClientType == domain.IPClient {
		return true
	}
	if rule.ClientType == domain.OrganizationClient {
		return reqCtx.Principal != nil && reqCtx.Principal.OrganizationID != ""
	}
	return false
}

// impliedPerMinute converte os campos de taxa de uma regra para uma taxa
// por minuto equivalente, usada no ordenamento por restritividade
func impliedPerMinute(rule *domain.RateLimitRule) float64 {
	min := -1.0
	consider := func(v float64) {
		if v > 0 && (min < 0 || v < min) {
			min = v
		}
	}
	consider(float64(rule.RequestsPerSecond) * 60)
	consider(float64(rule.RequestsPerMinute))
	consider(float64(rule.RequestsPerHour) / 60)
	consider(float64(rule.RequestsPerDay) / 1440)
	consider(float64(rule.AdaptiveBaseLimit))
	return min
}

// evaluateRule aplica as janelas fixas e o burst check da regra
func (e *Engine) evaluateRule(ctx context.Context, rule *domain.RateLimitRule, reqCtx *domain.RateLimitContext) (*domain.RateLimitResult, error) {
	// O identificador do contador segue o escopo da regra: regras de IP
	// agregam por endereço e regras de organização agregam o consumo de
	// todos os membros sob o mesmo orçamento
	identifier := reqCtx.ClientID
	switch rule.ClientType {
	case domain.IPClient:
		identifier = reqCtx.IP
	case domain.OrganizationClient:
		if reqCtx.Principal != nil && reqCtx.Principal.OrganizationID != "" {
			identifier = reqCtx.Principal.OrganizationID
		}
	}

	windows := activeWindows(rule)
	if rule.AdaptiveBaseLimit > 0 {
		limit, err := e.adaptiveLimit(ctx, rule, identifier)
		if err != nil {
			return nil, err
		}
		windows = append(windows, limitWindow{adaptiveWindowName, time.Minute, limit})
	}

	remaining := -1
	boundLimit := 0
	resetTime := reqCtx.Timestamp

	for _, w := range windows {
		key := buildCounterKey(rule.ID, rule.ClientType, identifier, w.name)

		count, err := e.store.Incr(ctx, key)
		if err != nil {
			return nil, err
		}
		if count == 1 {
			// Um crash entre o INCR e o EXPIRE deixa a chave sem TTL;
			// staleness aceito, o contador nunca nega indevidamente
			if err := e.store.Expire(ctx, key, w.ttl); err != nil {
				return nil, err
			}
		}

		if count > int64(w.limit) {
			retryAfter := int(w.ttl.Seconds())
			if ttl, err := e.store.TTL(ctx, key); err == nil && ttl > 0 {
				retryAfter = int(ttl.Seconds()) + 1
			}
			if rule.AdaptiveBaseLimit > 0 {
				// Negação zera o histórico limpo; o cliente volta ao limite base
				if err := e.store.Del(ctx, buildStreakKey(rule.ID, identifier)); err != nil {
					e.logger.Warn("Failed to reset adaptive streak", map[string]interface{}{
						"rule_id":    rule.ID,
						"identifier": identifier,
						"error":      err.Error(),
					})
				}
			}
			e.logger.Info("Rate limit exceeded", map[string]interface{}{
				"rule_id":    rule.ID,
				"client_id":  reqCtx.ClientID,
				"window":     w.name,
				"count":      count,
				"limit":      w.limit,
				"identifier": identifier,
			})
			return &domain.RateLimitResult{
				Allowed:     false,
				Limit:       w.limit,
				Remaining:   0,
				ResetTime:   reqCtx.Timestamp.Add(time.Duration(retryAfter) * time.Second),
				RetryAfter:  retryAfter,
				MatchedRule: rule,
			}, nil
		}

		windowRemaining := w.limit - int(count)
		if remaining < 0 || windowRemaining < remaining {
			remaining = windowRemaining
			boundLimit = w.limit
			resetTime = reqCtx.Timestamp.Add(w.ttl)
		}
	}

	if rule.BurstSize > 0 {
		exceeded, err := e.checkBurst(ctx, rule, identifier, reqCtx.Timestamp)
		if err != nil {
			return nil, err
		}
		if exceeded {
			return &domain.RateLimitResult{
				Allowed:     false,
				Limit:       rule.BurstSize,
				Remaining:   0,
				ResetTime:   reqCtx.Timestamp.Add(burstWindow),
				RetryAfter:  int(burstWindow.Seconds()),
				Burst:       true,
				MatchedRule: rule,
			}, nil
		}
	}

	if rule.AdaptiveBaseLimit > 0 {
		// Requisição limpa amplia o limite efetivo na próxima avaliação;
		// melhor esforço, a requisição já foi permitida
		streakKey := buildStreakKey(rule.ID, identifier)
		if streak, err := e.store.Incr(ctx, streakKey); err == nil && streak == 1 {
			if err := e.store.Expire(ctx, streakKey, adaptiveMemory); err != nil {
				e.logger.Warn("Failed to set adaptive streak expiry", map[string]interface{}{
					"rule_id": rule.ID,
					"error":   err.Error(),
				})
			}
		}
	}

	return &domain.RateLimitResult{
		Allowed:     true,
		Limit:       boundLimit,
		Remaining:   remaining,
		ResetTime:   resetTime,
		MatchedRule: rule,
	}, nil
}

// adaptiveLimit calcula o limite por minuto efetivo de uma regra
// adaptativa: parte do limite base e cresce com o histórico de
// requisições limpas do cliente, até o teto configurado
func (e *Engine) adaptiveLimit(ctx context.Context, rule *domain.RateLimitRule, identifier string) (int, error) {
	raw, err := e.store.Get(ctx, buildStreakKey(rule.ID, identifier))
	if err != nil {
		return 0, err
	}

	streak := 0
	if raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			streak = parsed
		}
	}

	limit := float64(rule.AdaptiveBaseLimit) * (1 + rule.AdaptiveFactor*float64(streak))
	if limit > float64(rule.AdaptiveMaxLimit) {
		return rule.AdaptiveMaxLimit, nil
	}
	return int(limit), nil
}

// checkBurst mantém um sorted set de timestamps por regra+cliente e
// verifica a cardinalidade dentro da janela deslizante
func (e *Engine) checkBurst(ctx context.Context, rule *domain.RateLimitRule, identifier string, now time.Time) (bool, error) {
	key := fmt.Sprintf("ratelimit:burst:%s:%s", rule.ID, identifier)
	nowMs := float64(now.UnixMilli())

	member := strconv.FormatInt(now.UnixNano(), 10)
	if err := e.store.ZAdd(ctx, key, nowMs, member); err != nil {
		return false, err
	}
	if err := e.store.ZRemRangeByScore(ctx, key, 0, nowMs-float64(burstWindow.Milliseconds())); err != nil {
		return false, err
	}
	if err := e.store.Expire(ctx, key, burstWindow); err != nil {
		return false, err
	}

	count, err := e.store.ZCard(ctx, key)
	if err != nil {
		return false, err
	}

	if count > int64(rule.BurstSize) {
		e.logger.Info("Burst limit exceeded", map[string]interface{}{
			"rule_id":    rule.ID,
			"identifier": identifier,
			"count":      count,
			"burst_size": rule.BurstSize,
		})
		return true, nil
	}
	return false, nil
}

// activeWindows retorna as janelas fixas configuradas na regra
func activeWindows(rule *domain.RateLimitRule) []limitWindow {
	var windows []limitWindow
	if rule.RequestsPerSecond > 0 {
		windows = append(windows, limitWindow{"second", time.Second, rule.RequestsPerSecond})
	}
	if rule.RequestsPerMinute > 0 {
		windows = append(windows, limitWindow{"minute", time.Minute, rule.RequestsPerMinute})
	}
	if rule.RequestsPerHour > 0 {
		windows = append(windows, limitWindow{"hour", time.Hour, rule.RequestsPerHour})
	}
	if rule.RequestsPerDay > 0 {
		windows = append(windows, limitWindow{"day", 24 * time.Hour, rule.RequestsPerDay})
	}
	return windows
}

// buildCounterKey constrói a chave de contador no formato padrão
func buildCounterKey(ruleID string, clientType domain.ClientType, identifier, window string) string {
	return fmt.Sprintf("ratelimit:%s:%s:%s:%s", ruleID, clientType, identifier, window)
}

// buildStreakKey constrói a chave do histórico limpo do limite adaptativo
func buildStreakKey(ruleID, identifier string) string {
	return fmt.Sprintf("ratelimit:adaptive:%s:%s", ruleID, identifier)
}

// validateRule rejeita regras malformadas antes do registro
func validateRule(rule *domain.RateLimitRule) error {
	if rule.ID == "" || rule.Name == "" {
		return fmt.Errorf("%w: id and name are required", domain.ErrInvalidRule)
	}
	switch rule.ClientType {
	case domain.UserClient, domain.OrganizationClient, domain.APIKeyClient, domain.IPClient:
	default:
		return fmt.Errorf("%w: unknown client type %q", domain.ErrInvalidRule, rule.ClientType)
	}
	if len(rule.Endpoints) == 0 {
		return fmt.Errorf("%w: at least one endpoint pattern is required", domain.ErrInvalidRule)
	}
	if len(rule.Methods) == 0 {
		return fmt.Errorf("%w: at least one method is required", domain.ErrInvalidRule)
	}
	switch rule.Action {
	case domain.ThrottleAction, domain.BlockAction, domain.QueueAction:
	default:
		return fmt.Errorf("%w: unknown action %q", domain.ErrInvalidRule, rule.Action)
	}
	if !rule.HasRateField() {
		return fmt.Errorf("%w: at least one rate field must be set", domain.ErrInvalidRule)
	}
	if rule.AdaptiveBaseLimit > 0 {
		if rule.AdaptiveMaxLimit < rule.AdaptiveBaseLimit {
			return fmt.Errorf("%w: adaptive max limit must be >= base limit", domain.ErrInvalidRule)
		}
		if rule.AdaptiveFactor <= 0 {
			return fmt.Errorf("%w: adaptive adjustment factor must be positive", domain.ErrInvalidRule)
		}
	}
	return nil
}
