package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"gateway-core/internal/domain"
)

// HTTPKeyLookup implementa domain.APIKeyLookup sobre o serviço externo de
// API keys
type HTTPKeyLookup struct {
	endpoint string
	client   *http.Client
}

// NewHTTPKeyLookup cria um cliente de lookup apontando para o endpoint
func NewHTTPKeyLookup(endpoint string) *HTTPKeyLookup {
	return &HTTPKeyLookup{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 5 * time.Second},
	}
}

// Lookup consulta os metadados de uma key; 404 resolve para nil
func (l *HTTPKeyLookup) Lookup(ctx context.Context, rawKey string) (*domain.APIKeyInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-API-Key", rawKey)

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("api key lookup request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("api key lookup returned status %d", resp.StatusCode)
	}

	var info domain.APIKeyInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("failed to decode api key response: %w", err)
	}
	return &info, nil
}

// HTTPIntrospector implementa domain.OAuthIntrospector contra um
// authorization server compatível com RFC 7662
type HTTPIntrospector struct {
	endpoint string
	client   *http.Client
}

// NewHTTPIntrospector cria um cliente de introspecção
func NewHTTPIntrospector(endpoint string) *HTTPIntrospector {
	return &HTTPIntrospector{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 5 * time.Second},
	}
}

// Introspect consulta o estado de um token opaco
func (i *HTTPIntrospector) Introspect(ctx context.Context, rawToken string) (*domain.IntrospectionResult, error) {
	form := url.Values{"token": {rawToken}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := i.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("introspection request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("introspection returned status %d", resp.StatusCode)
	}

	var result domain.IntrospectionResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode introspection response: %w", err)
	}
	return &result, nil
}
