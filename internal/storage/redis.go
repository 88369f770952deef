package storage

import (
	"context"
	"fmt"
	"time"

	"gateway-core/internal/domain"

	"github.com/redis/go-redis/v9"
)

// RedisStore implementa a interface domain.CounterStore usando Redis
type RedisStore struct {
	client redis.Cmdable
	logger domain.Logger
}

// NewRedisStore cria uma nova instância do RedisStore
func NewRedisStore(host, port, password string, db int, logger domain.Logger) (*RedisStore, error) {
	// Configura cliente Redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", host, port),
		Password: password,
		DB:       db,

		// Configurações de performance
		PoolSize:        20,
		MinIdleConns:    5,
		MaxRetries:      3,
		DialTimeout:     5 * time.Second,
		ReadTimeout:     3 * time.Second,
		WriteTimeout:    3 * time.Second,
		PoolTimeout:     4 * time.Second,
		ConnMaxIdleTime: 5 * time.Minute,
	})

	// Testa a conexão
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Redis connection established", map[string]interface{}{
		"host": host,
		"port": port,
		"db":   db,
	})

	return &RedisStore{
		client: rdb,
		logger: logger,
	}, nil
}

// NewRedisStoreWithClient cria um RedisStore sobre um cliente existente.
// Usado nos testes com miniredis.
func NewRedisStoreWithClient(client redis.Cmdable, logger domain.Logger) *RedisStore {
	return &RedisStore{client: client, logger: logger}
}

// Incr incrementa atomicamente um contador e retorna o novo valor
func (r *RedisStore) Incr(ctx context.Context, key string) (int64, error) {
	start := time.Now()

	count, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		r.logStoreOperation("INCR", key, false, time.Since(start).Seconds()*1000, err)
		return 0, fmt.Errorf("failed to increment key %s: %w", key, err)
	}

	r.logStoreOperation("INCR", key, true, time.Since(start).Seconds()*1000, nil)
	return count, nil
}

// Expire define o TTL de uma chave
func (r *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := r.client.Expire(ctx, key, ttl).Err(); err != nil {
		return fmt.Errorf("failed to expire key %s: %w", key, err)
	}
	return nil
}

// TTL retorna o tempo de vida restante de uma chave
func (r *RedisStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := r.client.TTL(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get TTL for key %s: %w", key, err)
	}
	return ttl, nil
}

// Get recupera o valor de uma chave; retorna "" se não existir
func (r *RedisStore) Get(ctx context.Context, key string) (string, error) {
	start := time.Now()

	result, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			// Chave não existe
			r.logStoreOperation("GET", key, true, time.Since(start).Seconds()*1000, nil)
			return "", nil
		}
		r.logStoreOperation("GET", key, false, time.Since(start).Seconds()*1000, err)
		return "", fmt.Errorf("failed to get key %s: %w", key, err)
	}

	r.logStoreOperation("GET", key, true, time.Since(start).Seconds()*1000, nil)
	return result, nil
}

// SetEx define uma chave com TTL
func (r *RedisStore) SetEx(ctx context.Context, key, value string, ttl time.Duration) error {
	start := time.Now()

	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		r.logStoreOperation("SETEX", key, false, time.Since(start).Seconds()*1000, err)
		return fmt.Errorf("failed to set key %s: %w", key, err)
	}

	r.logStoreOperation("SETEX", key, true, time.Since(start).Seconds()*1000, nil)
	return nil
}

// Del remove uma ou mais chaves
func (r *RedisStore) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete keys: %w", err)
	}
	return nil
}

// ZAdd adiciona um membro com score a um sorted set
func (r *RedisStore) ZAdd(ctx context.Context, key string, score float64, member string) error {
	if err := r.client.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err(); err != nil {
		return fmt.Errorf("failed to zadd on key %s: %w", key, err)
	}
	return nil
}

// ZRemRangeByScore remove membros com score no intervalo [min, max]
func (r *RedisStore) ZRemRangeByScore(ctx context.Context, key string, min, max float64) error {
	minArg := fmt.Sprintf("%f", min)
	maxArg := fmt.Sprintf("%f", max)
	if err := r.client.ZRemRangeByScore(ctx, key, minArg, maxArg).Err(); err != nil {
		return fmt.Errorf("failed to zremrangebyscore on key %s: %w", key, err)
	}
	return nil
}

// ZCard retorna a cardinalidade de um sorted set
func (r *RedisStore) ZCard(ctx context.Context, key string) (int64, error) {
	count, err := r.client.ZCard(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to zcard on key %s: %w", key, err)
	}
	return count, nil
}

// ZRangeWithScores retorna membros e scores no intervalo de índices
func (r *RedisStore) ZRangeWithScores(ctx context.Context, key string, start, stop int64) (map[string]float64, error) {
	members, err := r.client.ZRangeWithScores(ctx, key, start, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to zrange on key %s: %w", key, err)
	}

	result := make(map[string]float64, len(members))
	for _, m := range members {
		result[fmt.Sprint(m.Member)] = m.Score
	}
	return result, nil
}

// ZIncrBy incrementa o score de um membro de um sorted set
func (r *RedisStore) ZIncrBy(ctx context.Context, key string, increment float64, member string) (float64, error) {
	score, err := r.client.ZIncrBy(ctx, key, increment, member).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to zincrby on key %s: %w", key, err)
	}
	return score, nil
}

// SAdd adiciona membros a um set
func (r *RedisStore) SAdd(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	if err := r.client.SAdd(ctx, key, args...).Err(); err != nil {
		return fmt.Errorf("failed to sadd on key %s: %w", key, err)
	}
	return nil
}

// SCard retorna a cardinalidade de um set
func (r *RedisStore) SCard(ctx context.Context, key string) (int64, error) {
	count, err := r.client.SCard(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to scard on key %s: %w", key, err)
	}
	return count, nil
}

// HIncrBy incrementa um campo de um hash
func (r *RedisStore) HIncrBy(ctx context.Context, key, field string, incr int64) (int64, error) {
	value, err := r.client.HIncrBy(ctx, key, field, incr).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to hincrby on key %s: %w", key, err)
	}
	return value, nil
}

// HGetAll retorna todos os campos de um hash
func (r *RedisStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	result, err := r.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to hgetall on key %s: %w", key, err)
	}
	return result, nil
}

// Keys retorna as chaves que casam com um padrão
func (r *RedisStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	keys, err := r.client.Keys(ctx, pattern).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list keys for pattern %s: %w", pattern, err)
	}
	return keys, nil
}

// Health verifica se o storage está saudável
func (r *RedisStore) Health(ctx context.Context) error {
	start := time.Now()

	if err := r.client.Ping(ctx).Err(); err != nil {
		r.logStoreOperation("HEALTH", "ping", false, time.Since(start).Seconds()*1000, err)
		return fmt.Errorf("%w: %v", domain.ErrStoreUnhealthy, err)
	}

	r.logStoreOperation("HEALTH", "ping", true, time.Since(start).Seconds()*1000, nil)
	return nil
}

// Close fecha a conexão com o storage
func (r *RedisStore) Close() error {
	if client, ok := r.client.(*redis.Client); ok {
		if err := client.Close(); err != nil {
			r.logger.Error("Failed to close Redis connection", err, nil)
			return err
		}
		r.logger.Info("Redis connection closed", nil)
	}
	return nil
}

// logStoreOperation registra operações de storage
func (r *RedisStore) logStoreOperation(operation, key string, success bool, latency float64, err error) {
	if r.logger == nil {
		return
	}
	if success {
		r.logger.Debug("Store operation completed", map[string]interface{}{
			"operation": operation,
			"key":       key,
			"latency":   latency,
		})
	} else {
		r.logger.Error("Store operation failed", err, map[string]interface{}{
			"operation": operation,
			"key":       key,
			"latency":   latency,
		})
	}
}
