package traffic

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"gateway-core/internal/config"
	"gateway-core/internal/domain"
)

const (
	windowBucket    = 5 * time.Minute
	windowRetention = 24 * time.Hour
	maxActivities   = 50

	// assinatura de probing: muitos endpoints distintos com volume baixo
	scanEndpointThreshold = 50
	scanRequestCeiling    = 200
)

// pesos de severidade usados no anomaly score
var severityWeights = map[domain.Severity]float64{
	domain.SeverityLow:      5,
	domain.SeverityMedium:   15,
	domain.SeverityHigh:     30,
	domain.SeverityCritical: 50,
}

// Monitor mantém perfis comportamentais por cliente, roda as heurísticas
// de anomalia e controla bloqueios e listas de acesso. O registro de
// requisições é assíncrono e nunca falha para o chamador.
type Monitor struct {
	store  domain.CounterStore
	logger domain.Logger
	cfg    *config.Config

	patterns      map[string]*domain.TrafficPattern
	restrictions  map[string]*domain.GeographicRestriction
	ipAccess      map[string]*domain.IPAccessControl
	scoreObserver func(float64)
	mutex         sync.RWMutex

	queue chan domain.RequestMeta
	stop  chan struct{}
	wg    sync.WaitGroup
}

// NewMonitor cria um novo monitor e inicia o worker de registro e os
// timers de manutenção
func NewMonitor(store domain.CounterStore, cfg *config.Config, logger domain.Logger) *Monitor {
	m := &Monitor{
		store:        store,
		logger:       logger,
		cfg:          cfg,
		patterns:     make(map[string]*domain.TrafficPattern),
		restrictions: make(map[string]*domain.GeographicRestriction),
		ipAccess:     make(map[string]*domain.IPAccessControl),
		queue:        make(chan domain.RequestMeta, cfg.RecordQueueSize),
		stop:         make(chan struct{}),
	}

	m.wg.Add(2)
	go m.recordWorker()
	go m.maintenanceWorker()

	return m
}

// SetScoreObserver registra um callback invocado com o score de anomalia
// recalculado a cada requisição processada
func (m *Monitor) SetScoreObserver(observer func(float64)) {
	m.mutex.Lock()
	m.scoreObserver = observer
	m.mutex.Unlock()
}

// Stop drena o worker de registro e para os timers de manutenção
func (m *Monitor) Stop() {
	close(m.stop)
	m.wg.Wait()
}

// RecordRequest enfileira os metadados de uma requisição para análise.
// Fire-and-forget: com a fila cheia a amostra é descartada com warning.
func (m *Monitor) RecordRequest(meta domain.RequestMeta) {
	if meta.Timestamp.IsZero() {
		meta.Timestamp = time.Now()
	}
	select {
	case m.queue <- meta:
	default:
		m.logger.Warn("Traffic record queue full, sample dropped", map[string]interface{}{
			"client_id": meta.ClientID,
		})
	}
}

// recordWorker consome a fila de registros
func (m *Monitor) recordWorker() {
	defer m.wg.Done()
	for {
		select {
		case meta := <-m.queue:
			m.processRequest(meta)
		case <-m.stop:
			// Drena o restante sem bloquear o shutdown
			for {
				select {
				case meta := <-m.queue:
					m.processRequest(meta)
				default:
					return
				}
			}
		}
	}
}

// maintenanceWorker roda a poda horária de perfis e o rescore periódico
func (m *Monitor) maintenanceWorker() {
	defer m.wg.Done()

	pruneTicker := time.NewTicker(time.Hour)
	rescoreTicker := time.NewTicker(5 * time.Minute)
	defer pruneTicker.Stop()
	defer rescoreTicker.Stop()

	for {
		select {
		case <-pruneTicker.C:
			m.prunePatterns()
		case <-rescoreTicker.C:
			m.rescorePatterns()
		case <-m.stop:
			return
		}
	}
}

// processRequest atualiza o perfil do cliente e roda os detectores
func (m *Monitor) processRequest(meta domain.RequestMeta) {
	patternKey := buildPatternKey(meta.ClientType, meta.ClientID)

	m.mutex.Lock()
	pattern, exists := m.patterns[patternKey]
	if !exists {
		pattern = &domain.TrafficPattern{
			ClientID:   meta.ClientID,
			ClientType: meta.ClientType,
			FirstSeen:  meta.Timestamp,
			Countries:  make(map[string]struct{}),
			Regions:    make(map[string]struct{}),
			IPs:        make(map[string]struct{}),
			Endpoints:  make(map[string]struct{}),
			Methods:    make(map[string]struct{}),
			UserAgents: make(map[string]struct{}),
		}
		m.patterns[patternKey] = pattern
	}

	pattern.RequestCount++
	pattern.LastSeen = meta.Timestamp
	if meta.Country != "" {
		pattern.Countries[meta.Country] = struct{}{}
	}
	if meta.Region != "" {
		pattern.Regions[meta.Region] = struct{}{}
	}
	if meta.IP != "" {
		pattern.IPs[meta.IP] = struct{}{}
	}
	pattern.Endpoints[meta.Endpoint] = struct{}{}
	pattern.Methods[meta.Method] = struct{}{}
	if meta.UserAgent != "" {
		pattern.UserAgents[meta.UserAgent] = struct{}{}
	}

	updateRates(pattern, meta.Timestamp)
	appendWindow(pattern, meta)

	activities := m.runDetectors(pattern)
	pattern.Activities = append(pattern.Activities, activities...)
	if len(pattern.Activities) > maxActivities {
		pattern.Activities = pattern.Activities[len(pattern.Activities)-maxActivities:]
	}
	pattern.AnomalyScore = m.computeScore(pattern)

	shouldBlock := m.cfg.AutoBlockEnabled && !pattern.IsBlocked &&
		pattern.AnomalyScore > m.cfg.AutoBlockThreshold
	score := pattern.AnomalyScore
	observer := m.scoreObserver
	m.mutex.Unlock()

	if observer != nil {
		observer(score)
	}

	for _, activity := range activities {
		m.logger.Warn("Suspicious activity detected", map[string]interface{}{
			"client_id":   meta.ClientID,
			"client_type": meta.ClientType,
			"activity":    activity.Type,
			"severity":    activity.Severity,
			"description": activity.Description,
		})
	}

	if shouldBlock {
		reason := fmt.Sprintf("anomaly score %.1f exceeded auto-block threshold", score)
		if err := m.BlockClient(meta.ClientID, meta.ClientType, reason, m.cfg.AutoBlockDuration); err != nil {
			m.logger.Error("Auto-block failed", err, map[string]interface{}{
				"client_id": meta.ClientID,
			})
		}
	}

	m.recordAnalytics(meta)
}

// updateRates recalcula as taxas derivadas do total desde firstSeen
func updateRates(pattern *domain.TrafficPattern, now time.Time) {
	elapsed := now.Sub(pattern.FirstSeen).Seconds()
	if elapsed < 1 {
		elapsed = 1
	}
	count := float64(pattern.RequestCount)
	pattern.PerSecond = count / elapsed
	pattern.PerMinute = count / (elapsed / 60)
	pattern.PerHour = count / (elapsed / 3600)
}

// appendWindow atualiza o bucket de 5 minutos corrente e poda os antigos
func appendWindow(pattern *domain.TrafficPattern, meta domain.RequestMeta) {
	bucketStart := meta.Timestamp.Truncate(windowBucket)

	n := len(pattern.Windows)
	if n == 0 || !pattern.Windows[n-1].Start.Equal(bucketStart) {
		pattern.Windows = append(pattern.Windows, domain.TimeWindow{Start: bucketStart})
		n++
	}
	pattern.Windows[n-1].RequestCount++
	if meta.StatusCode >= 400 {
		pattern.Windows[n-1].ErrorCount++
	}

	cutoff := meta.Timestamp.Add(-windowRetention)
	firstValid := 0
	for firstValid < n && pattern.Windows[firstValid].Start.Before(cutoff) {
		firstValid++
	}
	if firstValid > 0 {
		pattern.Windows = pattern.Windows[firstValid:]
	}
}

// runDetectors aplica as heurísticas de anomalia sobre o perfil.
// Chamado com o mutex de escrita em posse.
func (m *Monitor) runDetectors(pattern *domain.TrafficPattern) []domain.SuspiciousActivity {
	var detected []domain.SuspiciousActivity
	now := pattern.LastSeen

	if pattern.PerSecond > m.cfg.RapidRequestThreshold {
		severity := domain.SeverityMedium
		if pattern.PerSecond >= 2*m.cfg.RapidRequestThreshold {
			severity = domain.SeverityHigh
		}
		detected = append(detected, domain.SuspiciousActivity{
			Type:        domain.RapidRequests,
			Severity:    severity,
			Description: fmt.Sprintf("request rate %.1f/s exceeds threshold %.1f/s", pattern.PerSecond, m.cfg.RapidRequestThreshold),
			Timestamp:   now,
			Metadata:    map[string]interface{}{"per_second": pattern.PerSecond},
		})
	}

	if len(pattern.Countries) > m.cfg.GeoCountryThreshold {
		detected = append(detected, domain.SuspiciousActivity{
			Type:        domain.GeographicAnomaly,
			Severity:    domain.SeverityMedium,
			Description: fmt.Sprintf("requests from %d distinct countries", len(pattern.Countries)),
			Timestamp:   now,
			Metadata:    map[string]interface{}{"countries": len(pattern.Countries)},
		})
	}

	if len(pattern.UserAgents) > m.cfg.UserAgentThreshold {
		detected = append(detected, domain.SuspiciousActivity{
			Type:        domain.UserAgentRotation,
			Severity:    domain.SeverityMedium,
			Description: fmt.Sprintf("%d distinct user agents observed", len(pattern.UserAgents)),
			Timestamp:   now,
			Metadata:    map[string]interface{}{"user_agents": len(pattern.UserAgents)},
		})
	}

	if len(pattern.Endpoints) > scanEndpointThreshold && pattern.RequestCount < scanRequestCeiling {
		detected = append(detected, domain.SuspiciousActivity{
			Type:        domain.EndpointScanning,
			Severity:    domain.SeverityHigh,
			Description: fmt.Sprintf("%d distinct endpoints touched in %d requests", len(pattern.Endpoints), pattern.RequestCount),
			Timestamp:   now,
			Metadata:    map[string]interface{}{"endpoints": len(pattern.Endpoints)},
		})
	}

	return detected
}

// computeScore recalcula o anomaly score como soma ponderada limitada a
// [0, 100]. Chamado com o mutex de escrita em posse.
func (m *Monitor) computeScore(pattern *domain.TrafficPattern) float64 {
	score := 0.0

	if excess := pattern.PerSecond - m.cfg.RapidRequestThreshold; excess > 0 {
		score += math.Min(50, excess*5)
	}
	score += float64(len(pattern.Countries)) * 5
	score += float64(len(pattern.UserAgents)) * 3
	score += math.Min(30, float64(len(pattern.Endpoints)))

	for _, activity := range pattern.Activities {
		score += severityWeights[activity.Severity]
	}

	return math.Min(100, score)
}

// IsClientBlocked consulta o store compartilhado; com o store indisponível
// cai para o estado em memória do perfil
func (m *Monitor) IsClientBlocked(ctx context.Context, clientID string, clientType domain.ClientType) bool {
	key := buildBlockKey(clientType, clientID)

	value, err := m.store.Get(ctx, key)
	if err == nil {
		return value != ""
	}

	m.logger.Warn("Block lookup fell back to in-memory state", map[string]interface{}{
		"client_id": clientID,
		"error":     err.Error(),
	})

	m.mutex.RLock()
	defer m.mutex.RUnlock()

	pattern, exists := m.patterns[buildPatternKey(clientType, clientID)]
	if !exists || !pattern.IsBlocked {
		return false
	}
	if pattern.BlockExpiry != nil && time.Now().After(*pattern.BlockExpiry) {
		return false
	}
	return true
}

// BlockClient bloqueia um cliente no store compartilhado com TTL igual à
// duração e espelha o estado no perfil em memória
func (m *Monitor) BlockClient(clientID string, clientType domain.ClientType, reason string, durationSeconds int) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	duration := time.Duration(durationSeconds) * time.Second
	key := buildBlockKey(clientType, clientID)

	if err := m.store.SetEx(ctx, key, reason, duration); err != nil {
		m.logger.Error("Failed to persist client block", err, map[string]interface{}{
			"client_id": clientID,
		})
		// O estado em memória ainda garante o bloqueio nesta instância
	}

	expiry := time.Now().Add(duration)

	m.mutex.Lock()
	patternKey := buildPatternKey(clientType, clientID)
	pattern, exists := m.patterns[patternKey]
	if !exists {
		pattern = &domain.TrafficPattern{
			ClientID:   clientID,
			ClientType: clientType,
			FirstSeen:  time.Now(),
			Countries:  make(map[string]struct{}),
			Regions:    make(map[string]struct{}),
			IPs:        make(map[string]struct{}),
			Endpoints:  make(map[string]struct{}),
			Methods:    make(map[string]struct{}),
			UserAgents: make(map[string]struct{}),
		}
		m.patterns[patternKey] = pattern
	}
	pattern.IsBlocked = true
	pattern.BlockReason = reason
	pattern.BlockExpiry = &expiry
	m.mutex.Unlock()

	m.logger.Info("Client blocked", map[string]interface{}{
		"client_id":   clientID,
		"client_type": clientType,
		"reason":      reason,
		"duration":    durationSeconds,
	})
	return nil
}

// UnblockClient remove o bloqueio de um cliente; idempotente
func (m *Monitor) UnblockClient(clientID string, clientType domain.ClientType) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := m.store.Del(ctx, buildBlockKey(clientType, clientID)); err != nil {
		m.logger.Error("Failed to remove client block from store", err, map[string]interface{}{
			"client_id": clientID,
		})
	}

	m.mutex.Lock()
	if pattern, exists := m.patterns[buildPatternKey(clientType, clientID)]; exists {
		pattern.IsBlocked = false
		pattern.BlockReason = ""
		pattern.BlockExpiry = nil
	}
	m.mutex.Unlock()

	m.logger.Info("Client unblocked", map[string]interface{}{
		"client_id":   clientID,
		"client_type": clientType,
	})
	return nil
}

// GetPattern retorna uma cópia rasa do perfil de um cliente, ou nil
func (m *Monitor) GetPattern(clientID string, clientType domain.ClientType) *domain.TrafficPattern {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	pattern, exists := m.patterns[buildPatternKey(clientType, clientID)]
	if !exists {
		return nil
	}
	patternCopy := *pattern
	return &patternCopy
}

// prunePatterns remove perfis cujo lastSeen excedeu a retenção
func (m *Monitor) prunePatterns() {
	cutoff := time.Now().Add(-time.Duration(m.cfg.RetentionHours) * time.Hour)

	m.mutex.Lock()
	pruned := 0
	for key, pattern := range m.patterns {
		if pattern.LastSeen.Before(cutoff) {
			delete(m.patterns, key)
			pruned++
		}
	}
	m.mutex.Unlock()

	if pruned > 0 {
		m.logger.Info("Traffic patterns pruned", map[string]interface{}{
			"pruned": pruned,
		})
	}
}

// rescorePatterns recalcula o anomaly score de todos os perfis
func (m *Monitor) rescorePatterns() {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	for _, pattern := range m.patterns {
		pattern.AnomalyScore = m.computeScore(pattern)
	}
}

func buildPatternKey(clientType domain.ClientType, clientID string) string {
	return fmt.Sprintf("%s:%s", clientType, clientID)
}

func buildBlockKey(clientType domain.ClientType, clientID string) string {
	return fmt.Sprintf("traffic:block:%s:%s", clientType, clientID)
}
