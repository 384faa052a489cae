package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/sirupsen/logrus"
)

// ViewLocker serialises the dedup check and insert for one (owner, identity) pair.
// The returned release function must be called exactly once.
type ViewLocker interface {
	Lock(ctx context.Context, ownerID uint, identity Identity) (release func(), err error)
}

// noopViewLocker 不加锁：并发的同一访客请求可能都通过去重检查，导致重复计数。
type noopViewLocker struct{}

func (noopViewLocker) Lock(context.Context, uint, Identity) (func(), error) {
	return func() {}, nil
}

// RedisViewLocker 基于 redislock 的短 TTL 分布式锁，用于关闭去重检查与写入之间的竞态。
type RedisViewLocker struct {
	client  *redislock.Client
	ttl     time.Duration
	retries int
}

// NewRedisViewLocker ttl 应覆盖一次查询加一次写入的耗时。
func NewRedisViewLocker(client *redislock.Client, ttl time.Duration) *RedisViewLocker {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &RedisViewLocker{client: client, ttl: ttl, retries: 20}
}

func (l *RedisViewLocker) Lock(ctx context.Context, ownerID uint, identity Identity) (func(), error) {
	key := fmt.Sprintf("portfolio:view-lock:%d:%s", ownerID, identity.Hash())

	lock, err := l.client.Obtain(ctx, key, l.ttl, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(25*time.Millisecond), l.retries),
	})
	if err != nil {
		return nil, err
	}

	return func() {
		// 锁可能已因 TTL 过期，释放失败不影响已完成的写入。
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			logrus.WithError(err).WithField("key", key).Warn("failed to release view lock")
		}
	}, nil
}
