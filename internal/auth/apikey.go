package auth

import (
	"context"
	"fmt"
	"time"

	"gateway-core/internal/domain"

	"github.com/jellydator/ttlcache/v3"
)

// validateAPIKey consulta o colaborador externo de API keys, com cache
// local de 5 minutos, e mapeia os metadados para o principal
func (a *Authenticator) validateAPIKey(ctx context.Context, rawKey string) (*domain.Principal, error) {
	if a.keyLookup == nil {
		return nil, fmt.Errorf("api key lookup not configured")
	}

	var info *domain.APIKeyInfo
	if item := a.keyCache.Get(rawKey); item != nil {
		info = item.Value()
	} else {
		looked, err := a.keyLookup.Lookup(ctx, rawKey)
		if err != nil {
			return nil, fmt.Errorf("api key lookup failed: %w", err)
		}
		if looked == nil {
			return nil, fmt.Errorf("unknown api key")
		}
		a.keyCache.Set(rawKey, looked, ttlcache.DefaultTTL)
		info = looked
	}

	if !info.IsActive {
		return nil, fmt.Errorf("api key is inactive")
	}
	if info.ExpiresAt != nil && time.Now().After(*info.ExpiresAt) {
		return nil, fmt.Errorf("api key is expired")
	}

	return &domain.Principal{
		ID:       info.ID,
		Email:    fmt.Sprintf("%s@api-key.local", info.ID),
		Role:     "api_client",
		ClientID: info.ClientID,
		Scopes:   info.Scopes,
		AuthType: domain.APIKeyAuth,
	}, nil
}
