package services

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// CatalogCache caches the avatar and voice catalogs fetched from the avatar
// provider. The lists change rarely but the provider endpoints are slow, so
// handlers read through this cache instead of hitting the provider per
// request.
//
// The cache is an explicit object with a visible TTL and an invalidation
// method, injected into handlers — not ambient package state — so its
// lifecycle is testable.
type CatalogCache struct {
	provider *HeyGenService
	ttl      time.Duration

	mu             sync.Mutex
	avatars        []Avatar
	voices         []Voice
	avatarsFetched time.Time
	voicesFetched  time.Time
}

const defaultCatalogTTL = 1 * time.Hour

func NewCatalogCache(provider *HeyGenService) *CatalogCache {
	return NewCatalogCacheWithTTL(provider, defaultCatalogTTL)
}

func NewCatalogCacheWithTTL(provider *HeyGenService, ttl time.Duration) *CatalogCache {
	return &CatalogCache{
		provider: provider,
		ttl:      ttl,
	}
}

// Avatars returns the cached avatar list, refreshing it when stale.
func (c *CatalogCache) Avatars(ctx context.Context) ([]Avatar, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.avatars != nil && time.Since(c.avatarsFetched) < c.ttl {
		return c.avatars, nil
	}

	avatars, err := c.provider.ListAvatars(ctx)
	if err != nil {
		// Serve a stale list over an error when we have one.
		if c.avatars != nil {
			log.Printf("[Catalog] Avatar refresh failed, serving stale list: %v", err)
			return c.avatars, nil
		}
		return nil, fmt.Errorf("failed to fetch avatars: %w", err)
	}

	c.avatars = avatars
	c.avatarsFetched = time.Now()
	return avatars, nil
}

// Voices returns the cached voice list, refreshing it when stale.
func (c *CatalogCache) Voices(ctx context.Context) ([]Voice, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.voices != nil && time.Since(c.voicesFetched) < c.ttl {
		return c.voices, nil
	}

	voices, err := c.provider.ListVoices(ctx)
	if err != nil {
		if c.voices != nil {
			log.Printf("[Catalog] Voice refresh failed, serving stale list: %v", err)
			return c.voices, nil
		}
		return nil, fmt.Errorf("failed to fetch voices: %w", err)
	}

	c.voices = voices
	c.voicesFetched = time.Now()
	return voices, nil
}

// Invalidate drops both cached lists. The next read refetches.
func (c *CatalogCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.avatars = nil
	c.voices = nil
	c.avatarsFetched = time.Time{}
	c.voicesFetched = time.Time{}
}
