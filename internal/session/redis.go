package session

import (
	"context"
	"errors"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// RedisStore keeps each session in a hash "<prefix><user id>" with fields
// id, user_id, and turn. All commands of a Touch run in one MULTI/EXEC.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl, prefix: "ideabot:session:"}
}

// NewRedisClient parses a redis:// URL and pings the server.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	c := redis.NewClient(opts)
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

func (r *RedisStore) key(userID int64) string {
	return r.prefix + strconv.FormatInt(userID, 10)
}

// Touch implements Store.
func (r *RedisStore) Touch(ctx context.Context, userID int64) (Session, error) {
	if r == nil || r.client == nil {
		return Session{}, errors.New("session: redis client not configured")
	}
	key := r.key(userID)

	var (
		idCmd   *redis.StringCmd
		turnCmd *redis.IntCmd
	)
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSetNX(ctx, key, "id", newID())
		p.HSetNX(ctx, key, "user_id", userID)
		turnCmd = p.HIncrBy(ctx, key, "turn", 1)
		p.Expire(ctx, key, r.ttl)
		idCmd = p.HGet(ctx, key, "id")
		return nil
	})
	if err != nil {
		return Session{}, err
	}
	return Session{ID: idCmd.Val(), UserID: userID, Turn: int(turnCmd.Val())}, nil
}

// Reset implements Store.
func (r *RedisStore) Reset(ctx context.Context, userID int64) error {
	if r == nil || r.client == nil {
		return errors.New("session: redis client not configured")
	}
	return r.client.Del(ctx, r.key(userID)).Err()
}
