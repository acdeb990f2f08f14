package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/alexander-t-ho/prediction-market-sub001/internal/domain"
)

// ResultCache implements domain.ResultCache with a map. It is used when no
// Redis is configured.
type ResultCache struct {
	mu      sync.RWMutex
	results map[string]domain.ResolutionResult
}

// NewResultCache returns an empty cache.
func NewResultCache() *ResultCache {
	return &ResultCache{results: make(map[string]domain.ResolutionResult)}
}

func (c *ResultCache) Set(_ context.Context, result domain.ResolutionResult) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results[result.MarketID] = result
	return nil
}

func (c *ResultCache) Get(_ context.Context, marketID string) (domain.ResolutionResult, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.results[marketID]
	if !ok {
		return domain.ResolutionResult{}, fmt.Errorf("memory: get result %s: %w", marketID, domain.ErrNotFound)
	}
	return r, nil
}
