package auth

import (
	"fmt"
	"strings"

	"gateway-core/internal/domain"

	"github.com/golang-jwt/jwt/v5"
)

// validateJWT verifica assinatura e expiração com o segredo configurado e
// mapeia as claims para o principal normalizado
func (a *Authenticator) validateJWT(rawToken string) (*domain.Principal, error) {
	token, err := jwt.Parse(rawToken, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(a.cfg.JWTSecret), nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}

	principal := &domain.Principal{
		ID:             claimString(claims, "id", "sub"),
		Email:          claimString(claims, "email"),
		Role:           claimString(claims, "role"),
		OrganizationID: claimString(claims, "organizationId", "org_id"),
		ClientID:       claimString(claims, "client_id"),
		Scopes:         claimScopes(claims),
		AuthType:       domain.JWTAuth,
	}
	if principal.ID == "" {
		return nil, fmt.Errorf("token carries no subject")
	}
	if principal.Role == "" {
		principal.Role = "user"
	}

	return principal, nil
}

// claimString retorna a primeira claim string não vazia entre as chaves
func claimString(claims jwt.MapClaims, keys ...string) string {
	for _, key := range keys {
		if v, ok := claims[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// claimScopes aceita tanto "scopes" como lista quanto "scope" delimitado
// por espaços
func claimScopes(claims jwt.MapClaims) []string {
	if list, ok := claims["scopes"].([]interface{}); ok {
		scopes := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok && s != "" {
				scopes = append(scopes, s)
			}
		}
		return scopes
	}
	if raw, ok := claims["scope"].(string); ok && raw != "" {
		return strings.Fields(raw)
	}
	return nil
}
