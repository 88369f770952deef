package authz

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"gateway-core/internal/domain"

	"github.com/jellydator/ttlcache/v3"
)

// TTL do cache de permissões achatadas por papel
const permissionCacheTTL = 5 * time.Minute

// PermissionRequest descreve uma permissão exigida por um endpoint
type PermissionRequest struct {
	Resource   string
	Action     string
	Conditions []domain.Condition
}

// Authorizer avalia permissões RBAC com herança e condições templadas.
// Os papéis formam um DAG via Inherits; ciclos são rejeitados no registro.
type Authorizer struct {
	roles     map[string]*domain.Role
	logger    domain.Logger
	permCache *ttlcache.Cache[string, []domain.Permission]
	mutex     sync.RWMutex
}

// NewAuthorizer cria o authorizer com os papéis de sistema registrados
func NewAuthorizer(logger domain.Logger) (*Authorizer, error) {
	a := &Authorizer{
		roles:  make(map[string]*domain.Role),
		logger: logger,
		permCache: ttlcache.New[string, []domain.Permission](
			ttlcache.WithTTL[string, []domain.Permission](permissionCacheTTL),
		),
	}
	go a.permCache.Start()

	for _, role := range systemRoles() {
		if err := a.RegisterRole(role); err != nil {
			return nil, fmt.Errorf("failed to register system role %s: %w", role.ID, err)
		}
	}
	return a, nil
}

// Stop encerra a goroutine de expiração do cache de permissões
func (a *Authorizer) Stop() {
	a.permCache.Stop()
}

// RegisterRole valida e registra um papel; um ciclo na cadeia de
// herança é rejeitado antes do registro
func (a *Authorizer) RegisterRole(role *domain.Role) error {
	if role.ID == "" || role.Name == "" {
		return fmt.Errorf("role id and name are required")
	}

	a.mutex.Lock()
	defer a.mutex.Unlock()

	for _, parent := range role.Inherits {
		if parent == role.ID {
			// auto-herança cai na detecção de ciclo abaixo
			continue
		}
		if _, exists := a.roles[parent]; !exists {
			return fmt.Errorf("%w: inherited role %q", domain.ErrRoleNotFound, parent)
		}
	}

	if err := a.detectCycleLocked(role); err != nil {
		return err
	}

	roleCopy := *role
	a.roles[role.ID] = &roleCopy
	a.permCache.DeleteAll()
	return nil
}

// GetRole retorna uma cópia de um papel registrado, ou nil
func (a *Authorizer) GetRole(id string) *domain.Role {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	role, exists := a.roles[id]
	if !exists {
		return nil
	}
	roleCopy := *role
	return &roleCopy
}

// detectCycleLocked roda um DFS sobre o grafo proposto incluindo o novo
// papel; requer lock de escrita
func (a *Authorizer) detectCycleLocked(candidate *domain.Role) error {
	const (
		visiting = 1
		done     = 2
	)
	state := make(map[string]int)

	lookup := func(id string) *domain.Role {
		if id == candidate.ID {
			return candidate
		}
		return a.roles[id]
	}

	var visit func(id string) error
	visit = func(id string) error {
		switch state[id] {
		case visiting:
			return fmt.Errorf("%w: via role %s", domain.ErrRoleCycle, id)
		case done:
			return nil
		}
		state[id] = visiting
		if role := lookup(id); role != nil {
			for _, parent := range role.Inherits {
				if err := visit(parent); err != nil {
					return err
				}
			}
		}
		state[id] = done
		return nil
	}

	return visit(candidate.ID)
}

// GetUserPermissions retorna as permissões achatadas do papel do
// principal, com herança resolvida em profundidade
func (a *Authorizer) GetUserPermissions(principal *domain.Principal) []domain.Permission {
	if principal == nil {
		return nil
	}

	if item := a.permCache.Get(principal.Role); item != nil {
		return item.Value()
	}

	a.mutex.RLock()
	permissions := a.flattenLocked(principal.Role, make(map[string]struct{}))
	a.mutex.RUnlock()

	a.permCache.Set(principal.Role, permissions, ttlcache.DefaultTTL)
	return permissions
}

// flattenLocked resolve a herança de um papel em profundidade; requer
// lock de leitura
func (a *Authorizer) flattenLocked(roleID string, seen map[string]struct{}) []domain.Permission {
	if _, visited := seen[roleID]; visited {
		return nil
	}
	seen[roleID] = struct{}{}

	role, exists := a.roles[roleID]
	if !exists {
		return nil
	}

	permissions := make([]domain.Permission, 0, len(role.Permissions))
	permissions = append(permissions, role.Permissions...)
	for _, parent := range role.Inherits {
		permissions = append(permissions, a.flattenLocked(parent, seen)...)
	}
	return permissions
}

// HasPermission verifica se o principal possui uma permissão para o par
// recurso/ação, sem atributos de requisição
func (a *Authorizer) HasPermission(principal *domain.Principal, resource, action string) bool {
	return a.Authorize(principal, resource, action, nil, nil) == nil
}

// Authorize avalia o acesso do principal a resource/action. Condições da
// permissão e condições extras precisam todas passar; a primeira
// permissão satisfeita concede o acesso.
func (a *Authorizer) Authorize(principal *domain.Principal, resource, action string, extra []domain.Condition, attrs map[string]string) *domain.DenialError {
	if principal == nil {
		return domain.NewDenial(domain.CodeAuthorizationDenied, "no authenticated principal")
	}
	if principal.Role == "super_admin" {
		return nil
	}

	permissions := a.GetUserPermissions(principal)

	matchedAny := false
	for _, permission := range permissions {
		if !wildcardMatch(permission.Resource, resource) || !wildcardMatch(permission.Action, action) {
			continue
		}
		matchedAny = true

		if evaluatePermissionConditions(permission.Conditions, principal, attrs) &&
			evaluatePermissionConditions(extra, principal, attrs) {
			return nil
		}
	}

	required := fmt.Sprintf("%s:%s", resource, action)
	message := "permission denied"
	if matchedAny {
		message = "permission conditions not satisfied"
	}

	a.logger.Debug("Authorization denied", map[string]interface{}{
		"principal_id": principal.ID,
		"role":         principal.Role,
		"required":     required,
	})

	denial := domain.NewDenial(domain.CodeAuthorizationDenied, message)
	denial.Required = []string{required}
	return denial
}

// AuthorizeAny avalia uma lista de permissões alternativas (OR lógico)
func (a *Authorizer) AuthorizeAny(principal *domain.Principal, requests []PermissionRequest, attrs map[string]string) *domain.DenialError {
	var required []string
	for _, request := range requests {
		if a.Authorize(principal, request.Resource, request.Action, request.Conditions, attrs) == nil {
			return nil
		}
		required = append(required, fmt.Sprintf("%s:%s", request.Resource, request.Action))
	}

	denial := domain.NewDenial(domain.CodeAuthorizationDenied, "none of the accepted permissions were granted")
	denial.Required = required
	return denial
}

// wildcardMatch compara recurso/ação permitindo "*" de qualquer lado
func wildcardMatch(pattern, value string) bool {
	return pattern == "*" || value == "*" || pattern == value
}

// evaluatePermissionConditions avalia todas as condições de uma
// permissão; o valor real vem do principal ou dos atributos da requisição
func evaluatePermissionConditions(conditions []domain.Condition, principal *domain.Principal, attrs map[string]string) bool {
	for _, condition := range conditions {
		if !evaluatePermissionCondition(condition, principal, attrs) {
			return false
		}
	}
	return true
}

func evaluatePermissionCondition(condition domain.Condition, principal *domain.Principal, attrs map[string]string) bool {
	var actual string
	switch condition.Type {
	case "organization":
		actual = principal.OrganizationID
	case "user":
		actual = principal.ID
	case "role":
		actual = principal.Role
	default:
		actual = attrs[condition.Field]
	}

	expected := substitute(condition.Value, principal)

	switch condition.Operator {
	case domain.OpEquals:
		return actual == valueToString(expected)
	case domain.OpNotEquals:
		return actual != valueToString(expected)
	case domain.OpIn:
		return listContains(expected, actual)
	case domain.OpNotIn:
		return !listContains(expected, actual)
	case domain.OpContains:
		return strings.Contains(actual, valueToString(expected))
	case domain.OpGreaterThan:
		a, e, ok := bothFloats(actual, expected)
		return ok && a > e
	case domain.OpLessThan:
		a, e, ok := bothFloats(actual, expected)
		return ok && a < e
	default:
		return false
	}
}

func listContains(list interface{}, actual string) bool {
	switch items := list.(type) {
	case []string:
		for _, item := range items {
			if item == actual {
				return true
			}
		}
	case []interface{}:
		for _, item := range items {
			if valueToString(item) == actual {
				return true
			}
		}
	}
	return false
}

func bothFloats(actual string, expected interface{}) (float64, float64, bool) {
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
