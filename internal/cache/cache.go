// Package cache is an optional redis-backed result cache. A resubmitted
// fulfillment token returns the previously published output references
// without invoking the conversion tool again, which protects the caller's
// license-download quota. Entries live no longer than the presigned URLs
// they reference.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"acsm-bridge/internal/types"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

const keyPrefix = "acsm-bridge:result:"

// Config holds the redis connection settings.
type Config struct {
	Addr     string
	Password string
	Database int
	TTL      time.Duration
}

// ResultCache stores conversion outputs keyed by token digest.
type ResultCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *logrus.Entry
}

// New connects to redis and verifies the connection.
func New(ctx context.Context, cfg Config, logger *logrus.Entry) (*ResultCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.Database,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &ResultCache{
		client: client,
		ttl:    cfg.TTL,
		logger: logger,
	}, nil
}

// Close closes the redis connection.
func (c *ResultCache) Close() error {
	return c.client.Close()
}

// Digest returns the cache key material for a request: the token content
// when supplied inline, otherwise the token URL.
func Digest(tokenURL, tokenContent string) string {
	h := sha256.New()
	if tokenContent != "" {
		h.Write([]byte(tokenContent))
	} else {
		h.Write([]byte(tokenURL))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Lookup fetches cached outputs for a digest. The second return value
// reports whether there was a hit.
func (c *ResultCache) Lookup(ctx context.Context, digest string) ([]types.OutputFile, bool, error) {
	data, err := c.client.Get(ctx, keyPrefix+digest).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache lookup failed: %w", err)
	}

	var outputs []types.OutputFile
	if err := json.Unmarshal(data, &outputs); err != nil {
		return nil, false, fmt.Errorf("failed to decode cached result: %w", err)
	}

	c.logger.WithField("digest", digest).Info("Result cache hit")
	return outputs, true, nil
}

// Store caches outputs for a digest with the configured TTL.
func (c *ResultCache) Store(ctx context.Context, digest string, outputs []types.OutputFile) error {
	data, err := json.Marshal(outputs)
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}

	if err := c.client.Set(ctx, keyPrefix+digest, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache store failed: %w", err)
	}
	return nil
}
