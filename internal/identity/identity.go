// Package identity manages the durable chat identity (username, display
// name, chat token, avatar) associated with a wallet-authenticated user, and
// the once-per-login provisioning flow that resolves or creates it.
package identity

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// IdentityPrefix is the Redis key prefix for identity hashes.
	IdentityPrefix = "identity:"

	// PrefPrefix is the Redis key prefix for app-level preferences. These
	// outlive identity clearing (e.g. preferred currency survives logout).
	PrefPrefix = "pref:"
)

// Identity is the persisted chat identity. All fields are written in one
// update call; there is no multi-field transactional guarantee beyond that.
type Identity struct {
	Username    string `redis:"username"`
	DisplayName string `redis:"display_name"`
	ChatToken   string `redis:"chat_token"`
	AvatarURL   string `redis:"avatar_url"`
}

// Store persists identities and app-level preferences.
type Store interface {
	// Load returns the persisted identity for the user, or nil if none.
	Load(ctx context.Context, userID string) (*Identity, error)
	// Save writes the full identity in a single update (last writer wins).
	Save(ctx context.Context, userID string, id Identity) error
	// Clear removes the identity. Preferences are left untouched.
	Clear(ctx context.Context, userID string) error
	// Preference returns the stored app preference, or "" if unset.
	Preference(ctx context.Context, userID, name string) (string, error)
	// SetPreference stores an app preference that survives Clear.
	SetPreference(ctx context.Context, userID, name, value string) error
}

// RedisStore is the Redis-backed Store implementation.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(redisAddr string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: redisAddr})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("identity: redis connection failed: %w", err)
	}
	return &RedisStore{client: client}, nil
}

// NewRedisStoreWithClient wraps an existing Redis client.
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Load retrieves an identity hash. Returns nil if no identity exists.
func (s *RedisStore) Load(ctx context.Context, userID string) (*Identity, error) {
	var id Identity
	if err := s.client.HGetAll(ctx, IdentityPrefix+userID).Scan(&id); err != nil {
		return nil, err
	}
	if id.Username == "" {
		return nil, nil // not found
	}
	return &id, nil
}

// Save writes all identity fields in one HSET.
func (s *RedisStore) Save(ctx context.Context, userID string, id Identity) error {
	fields := map[string]interface{}{
		"username":     id.Username,
		"display_name": id.DisplayName,
		"chat_token":   id.ChatToken,
		"avatar_url":   id.AvatarURL,
	}
	return s.client.HSet(ctx, IdentityPrefix+userID, fields).Err()
}

// Clear deletes the identity hash. The preference hash is deliberately kept.
func (s *RedisStore) Clear(ctx context.Context, userID string) error {
	return s.client.Del(ctx, IdentityPrefix+userID).Err()
}

// Preference reads one app preference field.
func (s *RedisStore) Preference(ctx context.Context, userID, name string) (string, error) {
	val, err := s.client.HGet(ctx, PrefPrefix+userID, name).Result()
	if err == redis.Nil {
		return "", nil
	}
	return val, err
}

// SetPreference writes one app preference field.
func (s *RedisStore) SetPreference(ctx context.Context, userID, name, value string) error {
	return s.client.HSet(ctx, PrefPrefix+userID, name, value).Err()
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
