package proxy

import (
	"strconv"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"thumbfix/thumbs"
)

type cacheEntry struct {
	data        []byte
	contentType string
	rewritten   int
}

// pageCache keeps rewritten pages for a short while. Entries expire on their
// own; the key covers everything that changes the output.
type pageCache struct {
	lru *expirable.LRU[string, cacheEntry]
}

func newPageCache(size int, ttl time.Duration) *pageCache {
	return &pageCache{lru: expirable.NewLRU[string, cacheEntry](size, nil, ttl)}
}

func cacheKey(target string, env thumbs.Env, s thumbs.Settings) string {
	return target +
		"|dpr=" + strconv.FormatFloat(env.DevicePixelRatio, 'f', -1, 64) +
		"|is=" + env.ImageSet.String() +
		"|d=" + s.DomainOverride +
		"|c=" + strconv.FormatBool(s.AllowCustomCrop)
}

func (c *pageCache) Store(key string, entry cacheEntry) {
	if len(entry.data) == 0 {
		return
	}
	entry.data = append([]byte(nil), entry.data...)
	c.lru.Add(key, entry)
}

func (c *pageCache) Select(key string) (cacheEntry, bool) {
	return c.lru.Get(key)
}

func (c *pageCache) Len() int { return c.lru.Len() }
