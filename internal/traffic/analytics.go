package traffic

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gateway-core/internal/domain"
)

// formato de data usado nas chaves de agregados diários
const analyticsDateLayout = "2006-01-02"

// recordAnalytics atualiza os agregados diários no store compartilhado.
// Falhas são apenas logadas: analytics nunca afeta o caminho da requisição.
func (m *Monitor) recordAnalytics(meta domain.RequestMeta) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	date := meta.Timestamp.Format(analyticsDateLayout)
	hashKey := analyticsKey(date)

	if _, err := m.store.HIncrBy(ctx, hashKey, "total", 1); err != nil {
		m.logger.Debug("Analytics update skipped", map[string]interface{}{"error": err.Error()})
		return
	}
	if meta.StatusCode == 403 || meta.StatusCode == 429 {
		_, _ = m.store.HIncrBy(ctx, hashKey, "blocked", 1)
	}
	if meta.Country != "" {
		_, _ = m.store.HIncrBy(ctx, hashKey, "country:"+meta.Country, 1)
	}
	_, _ = m.store.HIncrBy(ctx, hashKey, "endpoint:"+meta.Endpoint, 1)

	clientsKey := analyticsClientsKey(date)
	_ = m.store.SAdd(ctx, clientsKey, buildPatternKey(meta.ClientType, meta.ClientID))
	_ = m.store.Expire(ctx, hashKey, 48*time.Hour)
	_ = m.store.Expire(ctx, clientsKey, 48*time.Hour)
}

// GetAnalytics retorna os agregados de um dia; date vazio usa o dia corrente
func (m *Monitor) GetAnalytics(ctx context.Context, date string) (*domain.TrafficAnalytics, error) {
	if date == "" {
		date = time.Now().Format(analyticsDateLayout)
	}

	fields, err := m.store.HGetAll(ctx, analyticsKey(date))
	if err != nil {
		return nil, fmt.Errorf("failed to load analytics for %s: %w", date, err)
	}

	analytics := &domain.TrafficAnalytics{
		Date:       date,
		ByCountry:  make(map[string]int64),
		ByEndpoint: make(map[string]int64),
	}

	for field, raw := range fields {
		value, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		switch {
		case field == "total":
			analytics.TotalRequests = value
		case field == "blocked":
			analytics.BlockedRequests = value
		case strings.HasPrefix(field, "country:"):
			analytics.ByCountry[strings.TrimPrefix(field, "country:")] = value
		case strings.HasPrefix(field, "endpoint:"):
			analytics.ByEndpoint[strings.TrimPrefix(field, "endpoint:")] = value
		}
	}

	if unique, err := m.store.SCard(ctx, analyticsClientsKey(date)); err == nil {
		analytics.UniqueClients = unique
	}

	return analytics, nil
}

func analyticsKey(date string) string {
	return "traffic:analytics:" + date
}

func analyticsClientsKey(date string) string {
	return "traffic:analytics:clients:" + date
}
