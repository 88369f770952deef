package storage

import (
	"context"
	"path"
	"strconv"
	"sync"
	"time"

	"gateway-core/internal/domain"
)

// MemoryStore implementa a interface domain.CounterStore em memória.
// Usado em testes e em desenvolvimento local; não coordena múltiplas
// instâncias do gateway.
type MemoryStore struct {
	values  map[string]string
	expiry  map[string]time.Time
	sets    map[string]map[string]struct{}
	zsets   map[string]map[string]float64
	hashes  map[string]map[string]int64
	mutex   sync.RWMutex
	logger  domain.Logger
	stopped chan struct{}
}

// NewMemoryStore cria uma nova instância do MemoryStore
func NewMemoryStore(logger domain.Logger) *MemoryStore {
	store := &MemoryStore{
		values:  make(map[string]string),
		expiry:  make(map[string]time.Time),
		sets:    make(map[string]map[string]struct{}),
		zsets:   make(map[string]map[string]float64),
		hashes:  make(map[string]map[string]int64),
		logger:  logger,
		stopped: make(chan struct{}),
	}

	// Inicia goroutine de limpeza
	go store.cleanup()

	if logger != nil {
		logger.Info("Memory store initialized", nil)
	}

	return store
}

// Incr incrementa atomicamente um contador e retorna o novo valor
func (m *MemoryStore) Incr(ctx context.Context, key string) (int64, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.expireLocked(key)

	current, _ := strconv.ParseInt(m.values[key], 10, 64)
	current++
	m.values[key] = strconv.FormatInt(current, 10)
	return current, nil
}

// Expire define o TTL de uma chave
func (m *MemoryStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.expiry[key] = time.Now().Add(ttl)
	return nil
}

// TTL retorna o tempo de vida restante de uma chave
func (m *MemoryStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	deadline, exists := m.expiry[key]
	if !exists {
		return -1, nil
	}
	remaining := time.Until(deadline)
	if remaining < 0 {
		return -1, nil
	}
	return remaining, nil
}

// Get recupera o valor de uma chave; retorna "" se não existir
func (m *MemoryStore) Get(ctx context.Context, key string) (string, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.expireLocked(key)
	return m.values[key], nil
}

// SetEx define uma chave com TTL
func (m *MemoryStore) SetEx(ctx context.Context, key, value string, ttl time.Duration) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.values[key] = value
	if ttl > 0 {
		m.expiry[key] = time.Now().Add(ttl)
	} else {
		delete(m.expiry, key)
	}
	return nil
}

// Del remove uma ou mais chaves
func (m *MemoryStore) Del(ctx context.Context, keys ...string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	for _, key := range keys {
		m.deleteLocked(key)
	}
	return nil
}

// ZAdd adiciona um membro com score a um sorted set
func (m *MemoryStore) ZAdd(ctx context.Context, key string, score float64, member string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.expireLocked(key)
	if m.zsets[key] == nil {
		m.zsets[key] = make(map[string]float64)
	}
	m.zsets[key][member] = score
	return nil
}

// ZRemRangeByScore remove membros com score no intervalo [min, max]
func (m *MemoryStore) ZRemRangeByScore(ctx context.Context, key string, min, max float64) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	for member, score := range m.zsets[key] {
		if score >= min && score <= max {
			delete(m.zsets[key], member)
		}
	}
	return nil
}

// ZCard retorna a cardinalidade de um sorted set
func (m *MemoryStore) ZCard(ctx context.Context, key string) (int64, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.expireLocked(key)
	return int64(len(m.zsets[key])), nil
}

// ZRangeWithScores retorna membros e scores; intervalos de índice não são
// suportados além de 0..-1 (conjunto completo), o suficiente para o gateway
func (m *MemoryStore) ZRangeWithScores(ctx context.Context, key string, start, stop int64) (map[string]float64, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	result := make(map[string]float64, len(m.zsets[key]))
	for member, score := range m.zsets[key] {
		result[member] = score
	}
	return result, nil
}

// ZIncrBy incrementa o score de um membro de um sorted set
func (m *MemoryStore) ZIncrBy(ctx context.Context, key string, increment float64, member string) (float64, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.zsets[key] == nil {
		m.zsets[key] = make(map[string]float64)
	}
	m.zsets[key][member] += increment
	return m.zsets[key][member], nil
}

// SAdd adiciona membros a um set
func (m *MemoryStore) SAdd(ctx context.Context, key string, members ...string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.sets[key] == nil {
		m.sets[key] = make(map[string]struct{})
	}
	for _, member := range members {
		m.sets[key][member] = struct{}{}
	}
	return nil
}

// SCard retorna a cardinalidade de um set
func (m *MemoryStore) SCard(ctx context.Context, key string) (int64, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	return int64(len(m.sets[key])), nil
}

// HIncrBy incrementa um campo de um hash
func (m *MemoryStore) HIncrBy(ctx context.Context, key, field string, incr int64) (int64, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.hashes[key] == nil {
		m.hashes[key] = make(map[string]int64)
	}
	m.hashes[key][field] += incr
	return m.hashes[key][field], nil
}

// HGetAll retorna todos os campos de um hash
func (m *MemoryStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	result := make(map[string]string, len(m.hashes[key]))
	for field, value := range m.hashes[key] {
		result[field] = strconv.FormatInt(value, 10)
	}
	return result, nil
}

// Keys retorna as chaves que casam com um padrão glob
func (m *MemoryStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	var keys []string
	seen := make(map[string]struct{})
	collect := func(key string) {
		if _, dup := seen[key]; dup {
			return
		}
		if ok, _ := path.Match(pattern, key); ok {
			seen[key] = struct{}{}
			keys = append(keys, key)
		}
	}
	for key := range m.values {
		collect(key)
	}
	for key := range m.sets {
		collect(key)
	}
	for key := range m.zsets {
		collect(key)
	}
	for key := range m.hashes {
		collect(key)
	}
	return keys, nil
}

// Health verifica se o storage está saudável
func (m *MemoryStore) Health(ctx context.Context) error {
	select {
	case <-m.stopped:
		return domain.ErrStoreUnhealthy
	default:
		return nil
	}
}

// Close encerra a goroutine de limpeza
func (m *MemoryStore) Close() error {
	close(m.stopped)
	return nil
}

// expireLocked remove a chave se já expirou; requer lock de escrita
func (m *MemoryStore) expireLocked(key string) {
	if deadline, exists := m.expiry[key]; exists && time.Now().After(deadline) {
		m.deleteLocked(key)
	}
}

// deleteLocked remove a chave de todas as estruturas; requer lock de escrita
func (m *MemoryStore) deleteLocked(key string) {
	delete(m.values, key)
	delete(m.expiry, key)
	delete(m.sets, key)
	delete(m.zsets, key)
	delete(m.hashes, key)
}

// cleanup remove periodicamente chaves expiradas
func (m *MemoryStore) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopped:
			return
		case <-ticker.C:
			m.mutex.Lock()
			now := time.Now()
			for key, deadline := range m.expiry {
				if now.After(deadline) {
					m.deleteLocked(key)
				}
			}
			m.mutex.Unlock()
		}
	}
}
