package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore handles Redis operations for throttling and abuse control.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new Redis store.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisStore{client: client}, nil
}

// Client returns the underlying Redis client, or nil on a nil store.
func (s *RedisStore) Client() *redis.Client {
	if s == nil {
		return nil
	}
	return s.client
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// otpAttemptsKey returns the key for a contact's OTP verification counter.
func otpAttemptsKey(contact string) string {
	return fmt.Sprintf("otp:attempts:%s", contact)
}

// CheckOTPAttempts reports whether contact may try another verification.
func (s *RedisStore) CheckOTPAttempts(ctx context.Context, contact string, limit int) (bool, error) {
	count, err := s.client.Get(ctx, otpAttemptsKey(contact)).Int()
	if err != nil && err != redis.Nil {
		return false, err
	}
	return count < limit, nil
}

// IncrementOTPAttempts records a failed verification for contact.
func (s *RedisStore) IncrementOTPAttempts(ctx context.Context, contact string, window time.Duration) error {
	key := otpAttemptsKey(contact)

	pipe := s.client.Pipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, window)
	_, err := pipe.Exec(ctx)
	return err
}

// ResetOTPAttempts clears the counter, e.g. after a fresh OTP is issued or a
// successful verification.
func (s *RedisStore) ResetOTPAttempts(ctx context.Context, contact string) error {
	return s.client.Del(ctx, otpAttemptsKey(contact)).Err()
}
