// internal/pkg/redis/client.go
package redis

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Client 是对 go-redis 客户端的薄封装，统一创建参数和连通性检查。
type Client struct {
	rdb *redis.Client
}

// NewClient 创建客户端并做一次 Ping 探活。
func NewClient(addr string) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, errors.Wrapf(err, "ping redis at %s", addr)
	}
	return &Client{rdb: rdb}, nil
}

// Wrap 包装一个已有的 go-redis 客户端（测试里配 miniredis 用）。
func Wrap(rdb *redis.Client) *Client {
	return &Client{rdb: rdb}
}

// GetClient 暴露底层客户端给需要完整命令面的调用方。
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

func (c *Client) Close() error {
	return c.rdb.Close()
}
