package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const sessionOpTimeout = 3 * time.Second

// SessionStore 基于 Redis 的用户会话状态存储，过期由键 TTL 保证。
type SessionStore struct {
	client *Client
}

// NewSessionStore 创建 Redis 会话存储。
func NewSessionStore(client *Client) *SessionStore {
	return &SessionStore{client: client}
}

// SetUserState 记录用户会话状态。
func (s *SessionStore) SetUserState(userID int64, state string, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), sessionOpTimeout)
	defer cancel()
	return s.client.rdb.Set(ctx, sessionKey(userID), state, ttl).Err()
}

// GetUserState 读取用户会话状态，不存在时返回空串。
func (s *SessionStore) GetUserState(userID int64) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), sessionOpTimeout)
	defer cancel()

	state, err := s.client.rdb.Get(ctx, sessionKey(userID)).Result()
	if err == goredis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return state, nil
}

// ClearUserState 清除用户会话状态。
func (s *SessionStore) ClearUserState(userID int64) error {
	ctx, cancel := context.WithTimeout(context.Background(), sessionOpTimeout)
	defer cancel()
	return s.client.rdb.Del(ctx, sessionKey(userID)).Err()
}

func sessionKey(userID int64) string {
	return fmt.Sprintf("session:user:%d", userID)
}
