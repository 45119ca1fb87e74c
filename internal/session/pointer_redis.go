package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisPointer stores a tab's pointer under <prefix>:tab:<tabID>:active.
// Every read or write extends its TTL, so the pointer outlives restarts of
// the tab's process but disappears once the tab stays idle.
type RedisPointer struct {
	client *redis.Client
	prefix string
	tabID  string
	ttl    time.Duration
	base   *zap.Logger
	logger *zap.Logger
}

var _ Pointer = (*RedisPointer)(nil)

func NewRedisPointer(client *redis.Client, prefix, tabID string, ttl time.Duration, logger *zap.Logger) *RedisPointer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisPointer{
		client: client,
		prefix: prefix,
		tabID:  tabID,
		ttl:    ttl,
		base:   logger,
		logger: logger.Named("session.pointer").With(zap.String("tab", tabID)),
	}
}

func (p *RedisPointer) key() string {
	return p.prefix + ":tab:" + p.tabID + ":active"
}

// TabID identifies the tab this pointer belongs to.
func (p *RedisPointer) TabID() string {
	return p.tabID
}

func (p *RedisPointer) Get(ctx context.Context) (string, bool) {
	var cmd *redis.StringCmd
	if p.ttl > 0 {
		cmd = p.client.GetEx(ctx, p.key(), p.ttl)
	} else {
		cmd = p.client.Get(ctx, p.key())
	}

	id, err := cmd.Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			p.logger.Warn("pointer read failed", zap.Error(err))
		}
		return "", false
	}
	return id, id != ""
}

func (p *RedisPointer) Set(ctx context.Context, sessionID string) error {
	if err := p.client.Set(ctx, p.key(), sessionID, p.ttl).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}
	return nil
}

func (p *RedisPointer) Clear(ctx context.Context) error {
	if err := p.client.Del(ctx, p.key()).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}
	return nil
}

// Duplicate copies this tab's pointer to tabID and returns the new pointer.
func (p *RedisPointer) Duplicate(ctx context.Context, tabID string) (*RedisPointer, error) {
	dup := NewRedisPointer(p.client, p.prefix, tabID, p.ttl, p.base)
	if id, ok := p.Get(ctx); ok {
		if err := dup.Set(ctx, id); err != nil {
			return nil, err
		}
	} else if err := dup.Clear(ctx); err != nil {
		return nil, err
	}
	return dup, nil
}
