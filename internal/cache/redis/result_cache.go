package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alexander-t-ho/prediction-market-sub001/internal/domain"
)

// ResultCache implements domain.ResultCache with one JSON string per market
// under resolution:{marketID}.
type ResultCache struct {
	client *Client
	ttl    time.Duration
}

// NewResultCache creates a ResultCache. A zero ttl keeps entries forever.
func NewResultCache(c *Client, ttl time.Duration) *ResultCache {
	return &ResultCache{client: c, ttl: ttl}
}

func (rc *ResultCache) key(marketID string) string {
	return rc.client.Key("resolution:" + marketID)
}

// Set stores result, replacing any previous entry for the market.
func (rc *ResultCache) Set(ctx context.Context, result domain.ResolutionResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("redis: marshal result %s: %w", result.MarketID, err)
	}
	if err := rc.client.Underlying().Set(ctx, rc.key(result.MarketID), data, rc.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set result %s: %w", result.MarketID, err)
	}
	return nil
}

// Get returns the cached result or domain.ErrNotFound.
func (rc *ResultCache) Get(ctx context.Context, marketID string) (domain.ResolutionResult, error) {
	data, err := rc.client.Underlying().Get(ctx, rc.key(marketID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.ResolutionResult{}, fmt.Errorf("redis: get result %s: %w", marketID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.ResolutionResult{}, fmt.Errorf("redis: get result %s: %w", marketID, err)
	}

	var result domain.ResolutionResult
	if err := json.Unmarshal(data, &result); err != nil {
		return domain.ResolutionResult{}, fmt.Errorf("redis: unmarshal result %s: %w", marketID, err)
	}
	return result, nil
}

var _ domain.ResultCache = (*ResultCache)(nil)
