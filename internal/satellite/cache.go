package satellite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lox/cropwatch/internal/metrics"
	"github.com/lox/cropwatch/internal/models"
)

// CachedProvider wraps another provider with a redis response cache. Cache
// failures are logged and fall through to the wrapped provider.
type CachedProvider struct {
	next   Provider
	client redis.Cmdable
	ttl    time.Duration
}

func NewCachedProvider(next Provider, client redis.Cmdable, ttl time.Duration) *CachedProvider {
	return &CachedProvider{next: next, client: client, ttl: ttl}
}

func (p *CachedProvider) Name() string { return p.next.Name() + "+redis" }

type cachedPoint struct {
	Date          string   `json:"date"`
	Value         float64  `json:"value"`
	CloudCoverage *float64 `json:"cloud_coverage,omitempty"`
}

func cacheKey(req Request) string {
	return fmt.Sprintf("cropwatch:series:%s:%s:%s:%s:%d",
		req.FieldID, req.Index, req.Start.Format(DateLayout), req.End.Format(DateLayout), req.IntervalDays)
}

func (p *CachedProvider) GetSeries(ctx context.Context, req Request) ([]models.IndexPoint, error) {
	key := cacheKey(req)

	data, err := p.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		points, decodeErr := decodeCached(data)
		if decodeErr == nil {
			metrics.ProviderCacheTotal.WithLabelValues("hit").Inc()
			return points, nil
		}
		log.Printf("satellite: cache decode %s: %v", key, decodeErr)
		metrics.ProviderCacheTotal.WithLabelValues("error").Inc()
	case errors.Is(err, redis.Nil):
		metrics.ProviderCacheTotal.WithLabelValues("miss").Inc()
	default:
		log.Printf("satellite: cache get %s: %v", key, err)
		metrics.ProviderCacheTotal.WithLabelValues("error").Inc()
	}

	points, err := p.next.GetSeries(ctx, req)
	if err != nil {
		return nil, err
	}

	if encoded, err := encodeCached(points); err != nil {
		log.Printf("satellite: cache encode %s: %v", key, err)
	} else if err := p.client.Set(ctx, key, encoded, p.ttl).Err(); err != nil {
		log.Printf("satellite: cache set %s: %v", key, err)
	}
	return points, nil
}

func encodeCached(points []models.IndexPoint) ([]byte, error) {
	out := make([]cachedPoint, len(points))
	for i, pt := range points {
		out[i] = cachedPoint{Date: pt.Date.Format(DateLayout), Value: pt.Value}
		if pt.CloudCoverage.Valid {
			cc := pt.CloudCoverage.Float64
			out[i].CloudCoverage = &cc
		}
	}
	return json.Marshal(out)
}

func decodeCached(data []byte) ([]models.IndexPoint, error) {
	var in []cachedPoint
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, err
	}
	out := make([]models.IndexPoint, 0, len(in))
	for _, cp := range in {
		d, err := time.Parse(DateLayout, cp.Date)
		if err != nil {
			return nil, err
		}
		pt := models.IndexPoint{Date: d, Value: cp.Value}
		if cp.CloudCoverage != nil {
			pt.CloudCoverage.Float64, pt.CloudCoverage.Valid = *cp.CloudCoverage, true
		}
		out = append(out, pt)
	}
	return out, nil
}
