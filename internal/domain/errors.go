package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// Códigos de negação expostos no corpo das respostas de erro
const (
	CodeAuthenticationRequired = "AUTHENTICATION_REQUIRED"
	CodeAuthenticationFailed   = "AUTHENTICATION_FAILED"
	CodeInsufficientScopes     = "INSUFFICIENT_SCOPES"
	CodeInsufficientPerms      = "INSUFFICIENT_PERMISSIONS"
	CodeAuthorizationDenied    = "AUTHORIZATION_DENIED"
	CodeOrgAccessDenied        = "ORGANIZATION_ACCESS_DENIED"
	CodeRateLimitExceeded      = "RATE_LIMIT_EXCEEDED"
	CodeBurstLimitExceeded     = "BURST_LIMIT_EXCEEDED"
	CodeClientBlocked          = "CLIENT_BLOCKED"
	CodeIPAccessDenied         = "IP_ACCESS_DENIED"
	CodeGeoRestricted          = "GEOGRAPHIC_RESTRICTION"
	CodeInternalError          = "INTERNAL_ERROR"
)

// Erros sentinela de validação e de configuração do RBAC
var (
	ErrRuleNotFound   = errors.New("rate limit rule not found")
	ErrInvalidRule    = errors.New("invalid rate limit rule")
	ErrRoleNotFound   = errors.New("role not found")
	ErrRoleCycle      = errors.New("role inheritance cycle detected")
	ErrEntryNotFound  = errors.New("access control entry not found")
	ErrInvalidEntry   = errors.New("invalid access control entry")
	ErrStoreUnhealthy = errors.New("counter store unavailable")
)

// DenialError representa uma negação com código legível por máquina.
// O pipeline converte DenialError no corpo de erro padrão do gateway.
type DenialError struct {
	Code       string
	Message    string
	Status     int
	RetryAfter int
	Required   []string
}

func (e *DenialError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewDenial cria uma negação com o status HTTP apropriado para o código
func NewDenial(code, message string) *DenialError {
	return &DenialError{Code: code, Message: message, Status: statusFor(code)}
}

func statusFor(code string) int {
	switch code {
	case CodeAuthenticationRequired, CodeAuthenticationFailed:
		return http.StatusUnauthorized
	case CodeInsufficientScopes, CodeInsufficientPerms, CodeAuthorizationDenied,
		CodeOrgAccessDenied, CodeClientBlocked, CodeIPAccessDenied, CodeGeoRestricted:
		return http.StatusForbidden
	case CodeRateLimitExceeded, CodeBurstLimitExceeded:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
