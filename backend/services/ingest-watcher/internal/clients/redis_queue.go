package clients

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

type listPusher interface {
	RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
}

// RedisQueue appends jobs to a list drained by the plot workers.
type RedisQueue struct {
	client listPusher
	closer func() error
	list   string
}

// NewRedisQueue wraps client; list is the redis key jobs are pushed onto.
func NewRedisQueue(client *redis.Client, list string) *RedisQueue {
	return &RedisQueue{client: client, closer: client.Close, list: list}
}

func (q *RedisQueue) Submit(ctx context.Context, job PlotJob) error {
	payload, err := encodeJob(job)
	if err != nil {
		return fmt.Errorf("redis queue: encode job: %w", err)
	}
	if err := q.client.RPush(ctx, q.list, payload).Err(); err != nil {
		return fmt.Errorf("redis queue: push %s: %w", q.list, err)
	}
	return nil
}

func (q *RedisQueue) Close() error {
	if q.closer == nil {
		return nil
	}
	return q.closer()
}
