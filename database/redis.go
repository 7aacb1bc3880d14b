package database

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisConnect opens one client per logical database number.
func RedisConnect(ctx context.Context, addr, password string, dbs []int, log zerolog.Logger) (map[int]*redis.Client, error) {
	clients := make(map[int]*redis.Client, len(dbs))
	for _, db := range dbs {
		if _, ok := clients[db]; ok {
			continue
		}
		client := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("ping redis db %d: %w", db, err)
		}
		clients[db] = client
	}

	log.Info().Ints("dbs", dbs).Msg("connections opened to Redis")
	return clients, nil
}

// RefreshTokens keeps the single live refresh token per user so a used token
// cannot be renewed twice.
type RefreshTokens struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRefreshTokens(rdb *redis.Client, ttl time.Duration) *RefreshTokens {
	return &RefreshTokens{rdb: rdb, ttl: ttl}
}

func (r *RefreshTokens) Save(ctx context.Context, userID uint, token string) error {
	return r.rdb.Set(ctx, refreshKey(userID), token, r.ttl).Err()
}

// Load returns "" when the user has no live refresh token.
func (r *RefreshTokens) Load(ctx context.Context, userID uint) (string, error) {
	token, err := r.rdb.Get(ctx, refreshKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return token, err
}

func refreshKey(userID uint) string {
	return "refresh:" + strconv.FormatUint(uint64(userID), 10)
}
