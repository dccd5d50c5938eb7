// Package settings reads per-tenant configuration through a cache-aside
// layer. The audit/retention core only ever calls Get; cache lifetime and
// invalidation are owned here.
package settings

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// ErrNotFound is returned when a tenant has no value for a key.
var ErrNotFound = errors.New("settings: not found")

// KeyAuditRetentionDays holds the tenant's audit retention, in days.
const KeyAuditRetentionDays = "audit.retention_days"

// Store is the durable source of setting values.
type Store interface {
	GetSetting(ctx context.Context, tenantID, key string) (string, error)
}

// Provider serves setting reads through an in-process TTL cache.
type Provider struct {
	store Store
	cache *ristretto.Cache[string, string]
	ttl   time.Duration
}

// NewProvider constructs a cached provider. ttl bounds how stale a cached
// value may get before the next read goes back to the store.
func NewProvider(store Store, ttl time.Duration) (*Provider, error) {
	if store == nil {
		return nil, errors.New("settings: store is required")
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	cache, err := ristretto.NewCache(&ristretto.Config[string, string]{
		NumCounters: 10_000,
		MaxCost:     1 << 20,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Provider{store: store, cache: cache, ttl: ttl}, nil
}

// Get returns the tenant's value for a key, serving from cache when fresh.
func (p *Provider) Get(ctx context.Context, tenantID, key string) (string, error) {
	tenantID = strings.TrimSpace(tenantID)
	key = strings.TrimSpace(key)
	if tenantID == "" || key == "" {
		return "", errors.New("settings: tenant_id and key are required")
	}
	cacheKey := tenantID + "\x00" + key
	if value, ok := p.cache.Get(cacheKey); ok {
		return value, nil
	}
	value, err := p.store.GetSetting(ctx, tenantID, key)
	if err != nil {
		return "", err
	}
	// Wait flushes the admission buffer so the next read hits the cache.
	p.cache.SetWithTTL(cacheKey, value, int64(len(value)), p.ttl)
	p.cache.Wait()
	return value, nil
}

// RetentionDays reads the tenant's audit retention policy. Tenants without
// one fall back to the given default.
func (p *Provider) RetentionDays(ctx context.Context, tenantID string) (int, error) {
	raw, err := p.Get(ctx, tenantID, KeyAuditRetentionDays)
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	days, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || days < 1 {
		return 0, fmt.Errorf("settings: invalid %s value %q", KeyAuditRetentionDays, raw)
	}
	return days, nil
}

// Close releases cache resources.
func (p *Provider) Close() {
	p.cache.Close()
}
