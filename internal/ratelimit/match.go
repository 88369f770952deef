package ratelimit

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"gateway-core/internal/domain"
)

// cache de padrões glob compilados; padrões de regra mudam raramente
var (
	patternCache   = make(map[string]*regexp.Regexp)
	patternCacheMu sync.RWMutex
)

// matchesEndpoint verifica se o endpoint casa com algum dos padrões glob
// da regra: exato, "*" global ou curinga de segmento traduzido para regex
func matchesEndpoint(patterns []string, endpoint string) bool {
	for _, pattern := range patterns {
		if pattern == "*" || pattern == endpoint {
			return true
		}
		if strings.Contains(pattern, "*") {
			if re := compilePattern(pattern); re != nil && re.MatchString(endpoint) {
				return true
			}
		}
	}
	return false
}

// matchesMethod verifica se o verbo casa com a lista da regra
func matchesMethod(methods []string, method string) bool {
	for _, m := range methods {
		if m == "*" || strings.EqualFold(m, method) {
			return true
		}
	}
	return false
}

// compilePattern traduz um padrão glob para regex ancorada
func compilePattern(pattern string) *regexp.Regexp {
	patternCacheMu.RLock()
	re, cached := patternCache[pattern]
	patternCacheMu.RUnlock()
	if cached {
		return re
	}

	expr := "^" + strings.ReplaceAll(regexp.QuoteMeta(pattern), `\*`, ".*") + "$"
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil
	}

	patternCacheMu.Lock()
	patternCache[pattern] = re
	patternCacheMu.Unlock()
	return re
}

// evaluateConditions avalia todas as condições de uma regra; todas
// precisam ser verdadeiras para a regra se aplicar
func evaluateConditions(conditions []domain.Condition, reqCtx *domain.RateLimitContext) bool {
	for _, cond := range conditions {
		if !evaluateCondition(cond, reqCtx) {
			return false
		}
	}
	return true
}

// evaluateCondition resolve o valor real a partir do contexto e compara
// com o valor esperado (após substituição de templates ${user.campo})
func evaluateCondition(cond domain.Condition, reqCtx *domain.RateLimitContext) bool {
	actual, found := resolveActual(cond, reqCtx)
	if !found {
		return false
	}

	expected := resolveTemplates(cond.Value, reqCtx.Principal)
	return compare(cond.Operator, actual, expected)
}

// resolveActual busca o valor real referenciado pela condição
func resolveActual(cond domain.Condition, reqCtx *domain.RateLimitContext) (string, bool) {
	switch cond.Type {
	case "header":
		v, ok := lookupFold(reqCtx.Headers, cond.Field)
		return v, ok
	case "query":
		v, ok := reqCtx.Query[cond.Field]
		return v, ok
	case "body":
		v, ok := reqCtx.Body[cond.Field]
		return v, ok
	case "ip":
		return reqCtx.IP, true
	case "time_window":
		// hora do dia em formato 24h, para janelas como "09-18"
		return fmt.Sprintf("%02d", reqCtx.Timestamp.Hour()), true
	default:
		return "", false
	}
}

// lookupFold busca em um mapa de headers sem diferenciar maiúsculas
func lookupFold(m map[string]string, key string) (string, bool) {
	if v, ok := m[key]; ok {
		return v, true
	}
	for k, v := range m {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return "", false
}

// compare aplica o operador da condição sobre valores normalizados
func compare(op domain.ConditionOperator, actual string, expected interface{}) bool {
	switch op {
	case domain.OpEquals:
		return actual == toString(expected)
	case domain.OpNotEquals:
		return actual != toString(expected)
	case domain.OpIn:
		return containsValue(expected, actual)
	case domain.OpNotIn:
		return !containsValue(expected, actual)
	case domain.OpContains:
		return strings.Contains(actual, toString(expected))
	case domain.OpGreaterThan:
		a, e, ok := toFloats(actual, expected)
		return ok && a > e
	case domain.OpLessThan:
		a, e, ok := toFloats(actual, expected)
		return ok && a < e
	case domain.OpRegex:
		re, err := regexp.Compile(toString(expected))
		return err == nil && re.MatchString(actual)
	case domain.OpInRange:
		// intervalo "min-max" inclusivo
		parts := strings.SplitN(toString(expected), "-", 2)
		if len(parts) != 2 {
			return false
		}
		a, err := strconv.ParseFloat(actual, 64)
		if err != nil {
			return false
		}
		min, errMin := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
		max, errMax := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		return errMin == nil && errMax == nil && a >= min && a <= max
	default:
		return false
	}
}

// resolveTemplates substitui referências ${user.campo} pelo valor do
// principal autenticado; caminhos desconhecidos viram string vazia
func resolveTemplates(value interface{}, principal *domain.Principal) interface{} {
	switch v := value.(type) {
	case string:
		return substituteTemplate(v, principal)
	case []string:
		out := make([]string, len(v))
		for i, item := range v {
			out[i] = substituteTemplate(item, principal)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = resolveTemplates(item, principal)
		}
		return out
	default:
		return value
	}
}

func substituteTemplate(s string, principal *domain.Principal) string {
	if !strings.Contains(s, "${") {
		return s
	}
	replacer := strings.NewReplacer(
		"${user.id}", principalField(principal, "id"),
		"${user.email}", principalField(principal, "email"),
		"${user.role}", principalField(principal, "role"),
		"${user.organizationId}", principalField(principal, "organizationId"),
		"${user.clientId}", principalField(principal, "clientId"),
	)
	return replacer.Replace(s)
}

func principalField(principal *domain.Principal, field string) string {
	if principal == nil {
		return ""
	}
	switch field {
	case "id":
		return principal.ID
	case "email":
		return principal.Email
	case "role":
		return principal.Role
	case "organizationId":
		return principal.OrganizationID
	case "clientId":
		return principal.ClientID
	default:
		return ""
	}
}

func toString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(v)
	}
}

func containsValue(list interface{}, actual string) bool {
	switch items := list.(type) {
	case []string:
		for _, item := range items {
			if item == actual {
				return true
			}
		}
	case []interface{}:
		for _, item := range items {
			if toString(item) == actual {
				return true
			}
		}
	case string:
		// também aceita lista separada por vírgula
		for _, item := range strings.Split(items, ",") {
			if strings.TrimSpace(item) == actual {
				return true
			}
		}
	}
	return false
}

func toFloats(actual string, expected interface{}) (float64, float64, bool) {
	a, err := strconv.ParseFloat(actual, 64)
	if err != nil {
		return 0, 0, false
	}
	switch t := expected.(type) {
	case float64:
		return a, t, true
	case int:
		return a, float64(t), true
	case string:
		e, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0, 0, false
		}
		return a, e, true
	default:
		return 0, 0, false
	}
}
