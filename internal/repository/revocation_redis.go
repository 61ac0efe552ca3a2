package repository

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"authservice/internal/crypto"
)

// NewRedisClient parses a redis:// URL and checks the server is reachable.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

type redisRevocationStore struct {
	client *redis.Client
	prefix string
	log    *zap.Logger
	now    func() time.Time
}

// NewRedisRevocationStore keeps one key per revoked token, expiring with the
// token, plus a sorted set of digests scored by expiry for the purge sweep.
func NewRedisRevocationStore(client *redis.Client, prefix string, log *zap.Logger) RevocationStore {
	return &redisRevocationStore{client: client, prefix: prefix, log: log, now: time.Now}
}

func (s *redisRevocationStore) tokenKey(digest string) string {
	return s.prefix + ":token:" + digest
}

func (s *redisRevocationStore) indexKey() string {
	return s.prefix + ":expiry"
}

func (s *redisRevocationStore) Record(ctx context.Context, token string, userID int64, expiresAt time.Time) error {
	digest := crypto.TokenDigest(token)

	ttl := expiresAt.Sub(s.now())
	if ttl < time.Second {
		ttl = time.Second
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SetNX(ctx, s.tokenKey(digest), strconv.FormatInt(userID, 10), ttl)
		pipe.ZAddNX(ctx, s.indexKey(), &redis.Z{
			Score:  float64(expiresAt.UnixMilli()),
			Member: digest,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to record revoked token: %w", err)
	}
	return nil
}

func (s *redisRevocationStore) IsRevoked(ctx context.Context, token string) (bool, error) {
	n, err := s.client.Exists(ctx, s.tokenKey(crypto.TokenDigest(token))).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check revoked token: %w", err)
	}
	return n > 0, nil
}

func (s *redisRevocationStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	digests, err := s.client.ZRangeByScore(ctx, s.indexKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to scan revocation index: %w", err)
	}
	if len(digests) == 0 {
		return 0, nil
	}

	keys := make([]string, len(digests))
	members := make([]interface{}, len(digests))
	for i, d := range digests {
		keys[i] = s.tokenKey(d)
		members[i] = d
	}

	var removed *redis.IntCmd
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, keys...)
		removed = pipe.ZRem(ctx, s.indexKey(), members...)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to purge revoked tokens: %w", err)
	}
	return removed.Val(), nil
}
