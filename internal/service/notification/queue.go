// internal/service/notification/queue.go
package notification

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

const defaultQueueKey = "notifications:outbox"

// Queue is a Redis list of notification ids awaiting delivery.
// Producers LPUSH, the dispatcher RPOPs, so delivery is FIFO.
type Queue struct {
	client redis.UniversalClient
	key    string
}

func NewQueue(client redis.UniversalClient, key string) *Queue {
	if key == "" {
		key = defaultQueueKey
	}
	return &Queue{client: client, key: key}
}

func (q *Queue) Push(ctx context.Context, id int64) error {
	if err := q.client.LPush(ctx, q.key, id).Err(); err != nil {
		return fmt.Errorf("failed to push notification %d: %w", id, err)
	}
	return nil
}

// Pop returns the oldest id, or ok=false when the queue is empty.
func (q *Queue) Pop(ctx context.Context) (id int64, ok bool, err error) {
	v, err := q.client.RPop(ctx, q.key).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to pop notification: %w", err)
	}
	id, err = strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("malformed notification id %q: %w", v, err)
	}
	return id, true, nil
}

func (q *Queue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key).Result()
}
