package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"smm-planner/internal/domain"
	"smm-planner/internal/infra/metrics"
)

// RedisPublishQueue реализует очередь задач публикации на базе Redis lists.
type RedisPublishQueue struct {
	client *redis.Client
	key    string
}

// NewRedisPublishQueue создаёт очередь по указанному ключу.
func NewRedisPublishQueue(client *redis.Client, key string) *RedisPublishQueue {
	return &RedisPublishQueue{client: client, key: key}
}

// Enqueue публикует задачу в очередь.
func (q *RedisPublishQueue) Enqueue(ctx context.Context, job domain.PublishJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	start := time.Now()
	err = q.client.LPush(ctx, q.key, payload).Err()
	metrics.ObserveNetworkRequest("redis", "lpush", q.key, start, err)
	if err != nil {
		return fmt.Errorf("постановка задачи в очередь: %w", err)
	}
	return nil
}

// Pop блокирующе читает задачу из очереди.
func (q *RedisPublishQueue) Pop(ctx context.Context) (domain.PublishJob, error) {
	for {
		if err := ctx.Err(); err != nil {
			return domain.PublishJob{}, err
		}
		res, err := q.client.BRPop(ctx, time.Second, q.key).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return domain.PublishJob{}, ctx.Err()
			}
			return domain.PublishJob{}, fmt.Errorf("чтение очереди: %w", err)
		}
		if len(res) < 2 {
			continue
		}
		var job domain.PublishJob
		if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
			return domain.PublishJob{}, fmt.Errorf("decode job: %w", err)
		}
		return job, nil
	}
}
