package traffic

import (
	"fmt"
	"net"
	"time"

	"gateway-core/internal/domain"

	"github.com/google/uuid"
)

// duração do bloqueio automático criado por restrição geográfica
const geoBlockDuration = 24 * time.Hour

// CheckIPAccess avalia as listas estáticas de IP. Blacklist tem
// precedência sobre whitelist: um IP presente nas duas listas é negado.
// Sem entrada aplicável o padrão é permitir.
func (m *Monitor) CheckIPAccess(ip string) *domain.IPAccessResult {
	now := time.Now()

	m.mutex.RLock()
	defer m.mutex.RUnlock()

	var whitelisted *domain.IPAccessControl
	for _, entry := range m.ipAccess {
		if !entry.IsActive || entry.Expired(now) {
			continue
		}
		if !ipMatches(entry.IPAddress, ip) {
			continue
		}
		if entry.Type == domain.Blacklist {
			return &domain.IPAccessResult{Allowed: false, Reason: entry.Reason}
		}
		whitelisted = entry
	}
	if whitelisted != nil {
		return &domain.IPAccessResult{Allowed: true, Reason: whitelisted.Reason}
	}

	return &domain.IPAccessResult{Allowed: true}
}

// CheckGeoAccess avalia as restrições geográficas ativas para o país
// resolvido da requisição. Uma entrada de whitelist de IP tem precedência
// sobre qualquer restrição geográfica: quem colocou o IP na lista tomou
// uma decisão mais específica que a política por país.
func (m *Monitor) CheckGeoAccess(ip, country string) *domain.IPAccessResult {
	if country == "" {
		return &domain.IPAccessResult{Allowed: true}
	}

	now := time.Now()

	m.mutex.RLock()
	for _, entry := range m.ipAccess {
		if entry.IsActive && !entry.Expired(now) && entry.Type == domain.Whitelist && ipMatches(entry.IPAddress, ip) {
			m.mutex.RUnlock()
			return &domain.IPAccessResult{Allowed: true, Reason: entry.Reason}
		}
	}

	var blocked *domain.GeographicRestriction
	for _, restriction := range m.restrictions {
		if !restriction.IsActive {
			continue
		}
		switch restriction.Type {
		case domain.BlockRestriction:
			if containsString(restriction.Countries, country) {
				blocked = restriction
			}
		case domain.AllowRestriction:
			if !containsString(restriction.Countries, country) {
				blocked = restriction
			}
		}
		if blocked != nil {
			break
		}
	}
	m.mutex.RUnlock()

	if blocked == nil {
		return &domain.IPAccessResult{Allowed: true}
	}

	// Restrição do tipo block dispara um bloqueio automático de 24h no IP
	if blocked.Type == domain.BlockRestriction && ip != "" {
		expiry := time.Now().Add(geoBlockDuration)
		entry := &domain.IPAccessControl{
			ID:        uuid.NewString(),
			IPAddress: ip,
			Type:      domain.Blacklist,
			Reason:    fmt.Sprintf("geographic restriction %s (%s)", blocked.Name, country),
			ExpiresAt: &expiry,
			IsActive:  true,
		}
		if err := m.AddIPControl(entry); err != nil {
			m.logger.Error("Failed to auto-block IP for geo restriction", err, map[string]interface{}{
				"ip": ip,
			})
		}
	}

	return &domain.IPAccessResult{
		Allowed: false,
		Reason:  fmt.Sprintf("country %s restricted by %s", country, blocked.Name),
	}
}

// AddIPControl registra uma entrada de controle de acesso por IP
func (m *Monitor) AddIPControl(entry *domain.IPAccessControl) error {
	if entry.IPAddress == "" {
		return fmt.Errorf("%w: ip address is required", domain.ErrInvalidEntry)
	}
	switch entry.Type {
	case domain.Whitelist, domain.Blacklist:
	default:
		return fmt.Errorf("%w: unknown access list type %q", domain.ErrInvalidEntry, entry.Type)
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}

	m.mutex.Lock()
	entryCopy := *entry
	m.ipAccess[entry.ID] = &entryCopy
	m.mutex.Unlock()

	m.logger.Info("IP access control entry added", map[string]interface{}{
		"entry_id": entry.ID,
		"ip":       entry.IPAddress,
		"type":     entry.Type,
	})
	return nil
}

// RemoveIPControl remove uma entrada de controle de acesso por IP
func (m *Monitor) RemoveIPControl(id string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if _, exists := m.ipAccess[id]; !exists {
		return domain.ErrEntryNotFound
	}
	delete(m.ipAccess, id)
	return nil
}

// GetIPControls retorna cópias de todas as entradas registradas
func (m *Monitor) GetIPControls() []*domain.IPAccessControl {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	entries := make([]*domain.IPAccessControl, 0, len(m.ipAccess))
	for _, entry := range m.ipAccess {
		entryCopy := *entry
		entries = append(entries, &entryCopy)
	}
	return entries
}

// AddGeoRestriction registra uma restrição geográfica
func (m *Monitor) AddGeoRestriction(restriction *domain.GeographicRestriction) error {
	if restriction.Name == "" || len(restriction.Countries) == 0 {
		return fmt.Errorf("%w: name and countries are required", domain.ErrInvalidEntry)
	}
	switch restriction.Type {
	case domain.AllowRestriction, domain.BlockRestriction:
	default:
		return fmt.Errorf("%w: unknown restriction type %q", domain.ErrInvalidEntry, restriction.Type)
	}
	if restriction.ID == "" {
		restriction.ID = uuid.NewString()
	}

	m.mutex.Lock()
	restrictionCopy := *restriction
	m.restrictions[restriction.ID] = &restrictionCopy
	m.mutex.Unlock()

	m.logger.Info("Geographic restriction added", map[string]interface{}{
		"restriction_id": restriction.ID,
		"name":           restriction.Name,
		"type":           restriction.Type,
	})
	return nil
}

// RemoveGeoRestriction remove uma restrição geográfica
func (m *Monitor) RemoveGeoRestriction(id string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if _, exists := m.restrictions[id]; !exists {
		return domain.ErrEntryNotFound
	}
	delete(m.restrictions, id)
	return nil
}

// GetGeoRestrictions retorna cópias de todas as restrições registradas
func (m *Monitor) GetGeoRestrictions() []*domain.GeographicRestriction {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	restrictions := make([]*domain.GeographicRestriction, 0, len(m.restrictions))
	for _, restriction := range m.restrictions {
		restrictionCopy := *restriction
		restrictions = append(restrictions, &restrictionCopy)
	}
	return restrictions
}

// ipMatches compara um IP com uma entrada exata ou um CIDR
func ipMatches(entry, ip string) bool {
	if entry == ip {
		return true
	}
	_, network, err := net.ParseCIDR(entry)
	if err != nil {
		return false
	}
	parsed := net.ParseIP(ip)
	return parsed != nil && network.Contains(parsed)
}

func containsString(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}
