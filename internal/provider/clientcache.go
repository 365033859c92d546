package provider

import (
	"container/list"
	"crypto/sha256"
	"fmt"
	"sync"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// clientCache memoises constructed OpenAI clients keyed by credentials and
// transport settings, with LRU eviction. The API key enters the cache key
// only as a digest.
type clientCache struct {
	mu      sync.Mutex
	limit   int
	entries map[string]*list.Element
	order   *list.List
}

type clientEntry struct {
	key    string
	client openai.Client
}

func newClientCache(limit int) *clientCache {
	if limit <= 0 {
		limit = 200
	}
	return &clientCache{
		limit:   limit,
		entries: make(map[string]*list.Element),
		order:   list.New(),
	}
}

func (c *clientCache) get(apiKey, baseURL string, timeout time.Duration, retries int) openai.Client {
	key := fmt.Sprintf("%x|%s|%s|%d", sha256.Sum256([]byte(apiKey)), baseURL, timeout, retries)

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		c.order.MoveToFront(el)
		return el.Value.(*clientEntry).client
	}

	client := openai.NewClient(
		option.WithAPIKey(apiKey),
		option.WithBaseURL(baseURL),
		option.WithRequestTimeout(timeout),
		option.WithMaxRetries(retries),
	)
	c.entries[key] = c.order.PushFront(&clientEntry{key: key, client: client})

	for c.order.Len() > c.limit {
		back := c.order.Back()
		c.order.Remove(back)
		delete(c.entries, back.Value.(*clientEntry).key)
	}
	return client
}

func (c *clientCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
