package authz

import (
	"fmt"
	"strings"

	"gateway-core/internal/domain"
)

// templatePath enumera os caminhos suportados nos templates de
// permissão. A resolução é tipada: um caminho desconhecido resolve para
// vazio em vez de interpolar texto arbitrário.
type templatePath string

const (
	pathUserID         templatePath = "${user.id}"
	pathUserEmail      templatePath = "${user.email}"
	pathUserRole       templatePath = "${user.role}"
	pathUserOrg        templatePath = "${user.organizationId}"
	pathUserClientID   templatePath = "${user.clientId}"
)

// resolve retorna o valor do caminho para o principal informado
func (p templatePath) resolve(principal *domain.Principal) string {
	if principal == nil {
		return ""
	}
	switch p {
	case pathUserID:
		return principal.ID
	case pathUserEmail:
		return principal.Email
	case pathUserRole:
		return principal.Role
	case pathUserOrg:
		return principal.OrganizationID
	case pathUserClientID:
		return principal.ClientID
	default:
		return ""
	}
}

var knownPaths = []templatePath{
	pathUserID, pathUserEmail, pathUserRole, pathUserOrg, pathUserClientID,
}

// substitute resolve todas as referências de template em um valor
// esperado de condição. Listas são resolvidas elemento a elemento.
func substitute(value interface{}, principal *domain.Principal) interface{} {
	switch v := value.(type) {
	case string:
		return substituteString(v, principal)
	case []string:
		out := make([]string, len(v))
		for i, item := range v {
			out[i] = substituteString(item, principal)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = substitute(item, principal)
		}
		return out
	default:
		return value
	}
}

func substituteString(s string, principal *domain.Principal) string {
	if !strings.Contains(s, "${") {
		return s
	}
	for _, path := range knownPaths {
		s = strings.ReplaceAll(s, string(path), path.resolve(principal))
	}
	return s
}

// valueToString normaliza um valor esperado para comparação textual
func valueToString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
