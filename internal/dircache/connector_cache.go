// Package dircache caches read-mostly connector pricing rows in redis. The
// cache sits in front of route/pipeline lookups only; every monetary
// check-then-act still reads through the store inside its atomic unit.
package dircache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"creditgrid/internal/models"
)

// Source is the authoritative connector lookup behind the cache.
type Source interface {
	ConnectorByID(ctx context.Context, id int64) (*models.Connector, error)
}

// ConnectorCache is a read-through cache with TTL expiry.
type ConnectorCache struct {
	client *redis.Client
	source Source
	ttl    time.Duration
	logger *zap.Logger
}

// New builds the cache.
func New(client *redis.Client, source Source, ttl time.Duration, logger *zap.Logger) *ConnectorCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &ConnectorCache{client: client, source: source, ttl: ttl, logger: logger}
}

func (c *ConnectorCache) key(id int64) string {
	return fmt.Sprintf("connectors:%d", id)
}

// ConnectorByID serves from redis when possible and falls back to the
// source. Cache failures degrade to direct reads; they never fail a hop.
func (c *ConnectorCache) ConnectorByID(ctx context.Context, id int64) (*models.Connector, error) {
	raw, err := c.client.Get(ctx, c.key(id)).Result()
	if err == nil {
		var connector models.Connector
		if jerr := json.Unmarshal([]byte(raw), &connector); jerr == nil {
			return &connector, nil
		}
		// Poisoned entry, drop it and reload.
		c.client.Del(ctx, c.key(id))
	} else if !errors.Is(err, redis.Nil) {
		c.logger.Warn("connector cache read failed", zap.Int64("connector", id), zap.Error(err))
	}

	connector, err := c.source.ConnectorByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if data, jerr := json.Marshal(connector); jerr == nil {
		if serr := c.client.Set(ctx, c.key(id), data, c.ttl).Err(); serr != nil {
			c.logger.Warn("connector cache write failed", zap.Int64("connector", id), zap.Error(serr))
		}
	}
	return connector, nil
}

// Invalidate drops a cached connector, used when the CRUD layer reprices it.
func (c *ConnectorCache) Invalidate(ctx context.Context, id int64) error {
	return c.client.Del(ctx, c.key(id)).Err()
}
