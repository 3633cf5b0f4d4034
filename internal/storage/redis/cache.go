package redis

import (
	"context"
	"fmt"
	"time"
)

// SeenCache 基于 Redis 的邮件去重快速路径。
//
// 只是缓存：命中可以跳过一次数据库插入，未命中或 Redis 不可用时
// 仍由数据库唯一索引兜底，不影响去重不变式。
type SeenCache struct {
	client *Client
	ttl    time.Duration
}

// NewSeenCache 创建去重缓存，ttl 通常与邮件留存期一致。
func NewSeenCache(client *Client, ttl time.Duration) *SeenCache {
	return &SeenCache{client: client, ttl: ttl}
}

// Seen 判断某邮箱下的 messageId 是否已经处理过。
func (c *SeenCache) Seen(ctx context.Context, address, messageID string) (bool, error) {
	n, err := c.client.rdb.Exists(ctx, seenKey(address, messageID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkSeen 记录某邮箱下的 messageId 已处理。
func (c *SeenCache) MarkSeen(ctx context.Context, address, messageID string) error {
	return c.client.rdb.Set(ctx, seenKey(address, messageID), 1, c.ttl).Err()
}

func seenKey(address, messageID string) string {
	return fmt.Sprintf("seen:%s:%s", address, messageID)
}
