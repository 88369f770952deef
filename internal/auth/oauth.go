package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gateway-core/internal/domain"

	"github.com/jellydator/ttlcache/v3"
)

// validateOAuth chama o colaborador de introspecção OAuth, com cache
// local de 2 minutos, verificando active e expiração antes do mapeamento
func (a *Authenticator) validateOAuth(ctx context.Context, rawToken string) (*domain.Principal, error) {
	if a.introspector == nil {
		return nil, fmt.Errorf("oauth introspection not configured")
	}

	var result *domain.IntrospectionResult
	if item := a.oauthCache.Get(rawToken); item != nil {
		result = item.Value()
	} else {
		introspected, err := a.introspector.Introspect(ctx, rawToken)
		if err != nil {
			return nil, fmt.Errorf("introspection call failed: %w", err)
		}
		if introspected == nil {
			return nil, fmt.Errorf("unknown oauth token")
		}
		a.oauthCache.Set(rawToken, introspected, ttlcache.DefaultTTL)
		result = introspected
	}

	if !result.Active {
		return nil, fmt.Errorf("oauth token is not active")
	}
	if result.Exp > 0 && time.Now().Unix() >= result.Exp {
		return nil, fmt.Errorf("oauth token is expired")
	}

	id := result.Sub
	if id == "" {
		id = result.Username
	}
	if id == "" {
		id = result.ClientID
	}
	if id == "" {
		return nil, fmt.Errorf("introspection response carries no subject")
	}

	return &domain.Principal{
		ID:       id,
		Email:    result.Username,
		Role:     "oauth_client",
		ClientID: result.ClientID,
		Scopes:   strings.Fields(result.Scope),
		AuthType: domain.OAuthAuth,
	}, nil
}
