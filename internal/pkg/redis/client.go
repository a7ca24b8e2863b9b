// internal/pkg/redis/client.go
package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
	zlog "github.com/rs/zerolog/log"
)

// Client 封装 go-redis，并按名字管理预加载的 Lua 脚本。
type Client struct {
	rdb goredis.UniversalClient

	mu      sync.RWMutex
	scripts map[string]*goredis.Script
}

// NewClient 连接 Redis（单节点或集群，取决于 addrs 数量）并做一次 PING。
func NewClient(addrs []string, password string, db int) (*Client, error) {
	if len(addrs) == 0 {
		return nil, fmt.Errorf("redis: no address configured")
	}
	rdb := goredis.NewUniversalClient(&goredis.UniversalOptions{
		Addrs:    addrs,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping %v: %w", addrs, err)
	}
	zlog.Info().Strs("addrs", addrs).Msg("Successfully connected to Redis.")
	return Wrap(rdb), nil
}

// Wrap 用已有的 go-redis 客户端构造 Client。
func Wrap(rdb goredis.UniversalClient) *Client {
	return &Client{rdb: rdb, scripts: make(map[string]*goredis.Script)}
}

// LoadScriptFromContent 注册脚本并 SCRIPT LOAD 到服务端。
func (c *Client) LoadScriptFromContent(name, content string) error {
	script := goredis.NewScript(content)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := script.Load(ctx, c.rdb).Err(); err != nil {
		return fmt.Errorf("redis: load script %q: %w", name, err)
	}

	c.mu.Lock()
	c.scripts[name] = script
	c.mu.Unlock()
	return nil
}

// RunScript 执行已注册的脚本；服务端脚本缓存丢失时 go-redis 会自动回退到 EVAL。
func (c *Client) RunScript(ctx context.Context, name string, keys []string, args ...interface{}) (interface{}, error) {
	c.mu.RLock()
	script, ok := c.scripts[name]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("redis: script %q not loaded", name)
	}
	return script.Run(ctx, c.rdb, keys, args...).Result()
}

func (c *Client) GetClient() goredis.UniversalClient {
	return c.rdb
}

func (c *Client) Close() error {
	return c.rdb.Close()
}
