package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// NewRedisClient parses redisURL and pings the server.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid Redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// RedisStore holds the service's short-lived keys: cached product prices and
// idempotency records for cart creation.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func priceKey(productID int64) string {
	return fmt.Sprintf("product:price:%d", productID)
}

func idemKey(key string) string {
	return "idem:cart:" + key
}

// GetPrice reports ok=false on a cache miss.
func (s *RedisStore) GetPrice(ctx context.Context, productID int64) (decimal.Decimal, bool, error) {
	val, err := s.client.Get(ctx, priceKey(productID)).Result()
	if errors.Is(err, redis.Nil) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, err
	}
	price, err := decimal.NewFromString(val)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("corrupt cached price for product %d: %w", productID, err)
	}
	return price, true, nil
}

func (s *RedisStore) SetPrice(ctx context.Context, productID int64, price decimal.Decimal, ttl time.Duration) error {
	return s.client.Set(ctx, priceKey(productID), price.String(), ttl).Err()
}

// IdempotencyRecord is what is kept under an idempotency key: the
// fingerprint of the request that claimed it and, once that request
// succeeded, its response body.
type IdempotencyRecord struct {
	Fingerprint string          `json:"fingerprint"`
	Response    json.RawMessage `json:"response,omitempty"`
}

// Pending reports whether the claiming request is still running.
func (r *IdempotencyRecord) Pending() bool {
	return len(r.Response) == 0
}

// ReserveIdempotency claims key for the request with the given fingerprint.
// It reports false when another request holds or has completed the key.
func (s *RedisStore) ReserveIdempotency(ctx context.Context, key, fingerprint string, ttl time.Duration) (bool, error) {
	raw, err := json.Marshal(IdempotencyRecord{Fingerprint: fingerprint})
	if err != nil {
		return false, err
	}
	return s.client.SetNX(ctx, idemKey(key), raw, ttl).Result()
}

// GetIdempotency returns nil when the key is unknown.
func (s *RedisStore) GetIdempotency(ctx context.Context, key string) (*IdempotencyRecord, error) {
	raw, err := s.client.Get(ctx, idemKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec IdempotencyRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("corrupt idempotency record %s: %w", key, err)
	}
	return &rec, nil
}

// CompleteIdempotency stores the response of the request holding key.
func (s *RedisStore) CompleteIdempotency(ctx context.Context, key, fingerprint string, response []byte, ttl time.Duration) error {
	raw, err := json.Marshal(IdempotencyRecord{Fingerprint: fingerprint, Response: response})
	if err != nil {
		return err
	}
	return s.client.Set(ctx, idemKey(key), raw, ttl).Err()
}

// ReleaseIdempotency frees key after a failed request so it can be retried.
func (s *RedisStore) ReleaseIdempotency(ctx context.Context, key string) error {
	return s.client.Del(ctx, idemKey(key)).Err()
}

func (s *RedisStore) DeletePrice(ctx context.Context, productID int64) error {
	return s.client.Del(ctx, priceKey(productID)).Err()
}
