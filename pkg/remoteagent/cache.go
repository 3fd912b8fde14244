package remoteagent

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/kadirpekel/optica/pkg/a2a"
)

// DefaultCardTTL bounds how long a fetched card is reused.
const DefaultCardTTL = 5 * time.Minute

// CardCache holds agent cards by base URL. Concurrent misses for the same URL
// share one fetch. It may be shared by several connectors.
type CardCache struct {
	cards *expirable.LRU[string, *a2a.AgentCard]
	group singleflight.Group
}

// NewCardCache creates a cache of up to size cards, each valid for ttl.
func NewCardCache(size int, ttl time.Duration) *CardCache {
	if size <= 0 {
		size = 64
	}
	if ttl <= 0 {
		ttl = DefaultCardTTL
	}
	return &CardCache{cards: expirable.NewLRU[string, *a2a.AgentCard](size, nil, ttl)}
}

// Get returns the cached card of url or loads it with fetch.
func (c *CardCache) Get(ctx context.Context, url string, fetch func(context.Context) (*a2a.AgentCard, error)) (*a2a.AgentCard, error) {
	if card, ok := c.cards.Get(url); ok {
		return card, nil
	}
	v, err, _ := c.group.Do(url, func() (any, error) {
		if card, ok := c.cards.Get(url); ok {
			return card, nil
		}
		// The fetch is shared, so it must not die with the first caller.
		card, err := fetch(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		c.cards.Add(url, card)
		return card, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*a2a.AgentCard), nil
}

// Invalidate drops the card of url.
func (c *CardCache) Invalidate(url string) {
	c.cards.Remove(url)
}
