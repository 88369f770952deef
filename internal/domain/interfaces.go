package domain

import (
	"context"
	"time"
)

// CounterStore define a interface para o armazenamento compartilhado de
// contadores (compatível com Redis). É o único canal pelo qual múltiplas
// instâncias do gateway concordam sobre contagens e bloqueios.
type CounterStore interface {
	// Incr incrementa atomicamente um contador e retorna o novo valor
	Incr(ctx context.Context, key string) (int64, error)

	// Expire define o TTL de uma chave
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// TTL retorna o tempo de vida restante de uma chave
	TTL(ctx context.Context, key string) (time.Duration, error)

	// Get recupera o valor de uma chave; retorna "" se não existir
	Get(ctx context.Context, key string) (string, error)

	// SetEx define uma chave com TTL
	SetEx(ctx context.Context, key, value string, ttl time.Duration) error

	// Del remove uma ou mais chaves
	Del(ctx context.Context, keys ...string) error

	// ZAdd adiciona um membro com score a um sorted set
	ZAdd(ctx context.Context, key string, score float64, member string) error

	// ZRemRangeByScore remove membros com score no intervalo [min, max]
	ZRemRangeByScore(ctx context.Context, key string, min, max float64) error

	// ZCard retorna a cardinalidade de um sorted set
	ZCard(ctx context.Context, key string) (int64, error)

	// ZRangeWithScores retorna membros e scores no intervalo de índices
	ZRangeWithScores(ctx context.Context, key string, start, stop int64) (map[string]float64, error)

	// ZIncrBy incrementa o score de um membro de um sorted set
	ZIncrBy(ctx context.Context, key string, increment float64, member string) (float64, error)

	// SAdd adiciona membros a um set
	SAdd(ctx context.Context, key string, members ...string) error

	// SCard retorna a cardinalidade de um set
	SCard(ctx context.Context, key string) (int64, error)

	// HIncrBy incrementa um campo de um hash
	HIncrBy(ctx context.Context, key, field string, incr int64) (int64, error)

	// HGetAll retorna todos os campos de um hash
	HGetAll(ctx context.Context, key string) (map[string]string, error)

	// Keys retorna as chaves que casam com um padrão
	Keys(ctx context.Context, pattern string) ([]string, error)

	// Health verifica se o storage está saudável
	Health(ctx context.Context) error

	// Close fecha a conexão com o storage
	Close() error
}

// APIKeyLookup define o colaborador externo de consulta de API keys
type APIKeyLookup interface {
	// Lookup retorna os metadados de uma key, ou nil se desconhecida
	Lookup(ctx context.Context, rawKey string) (*APIKeyInfo, error)
}

// OAuthIntrospector define o colaborador externo de introspecção OAuth
type OAuthIntrospector interface {
	// Introspect retorna o estado de um token opaco, ou nil se desconhecido
	Introspect(ctx context.Context, rawToken string) (*IntrospectionResult, error)
}

// Logger define a interface para logging estruturado
type Logger interface {
	Debug(msg string, fields map[string]interface{})
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, err error, fields map[string]interface{})
	WithContext(ctx context.Context) Logger
}
