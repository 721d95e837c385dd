package redis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	frontierKeyPrefix = "crawler:frontier:"
	frontierTTL       = 24 * time.Hour
)

// FrontierRepoImpl is a per-job FIFO on a Redis list with a companion seen set.
type FrontierRepoImpl struct {
	client *redis.Client
}

// NewFrontierRepo creates a new instance of FrontierRepoImpl.
func NewFrontierRepo(client *redis.Client) *FrontierRepoImpl {
	return &FrontierRepoImpl{client: client}
}

func (r *FrontierRepoImpl) queueKey(jobID string) string { return frontierKeyPrefix + jobID }
func (r *FrontierRepoImpl) seenKey(jobID string) string  { return frontierKeyPrefix + jobID + ":seen" }

// Push adds URLs to the left of the list, skipping any queued before for the job.
func (r *FrontierRepoImpl) Push(ctx context.Context, jobID string, urls ...string) (int, error) {
	if len(urls) == 0 {
		return 0, nil
	}
	seen := r.seenKey(jobID)
	cmds := make([]*redis.IntCmd, len(urls))
	if _, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, u := range urls {
			cmds[i] = pipe.SAdd(ctx, seen, u)
		}
		pipe.Expire(ctx, seen, frontierTTL)
		return nil
	}); err != nil {
		return 0, err
	}

	fresh := make([]any, 0, len(urls))
	for i, cmd := range cmds {
		if cmd.Val() == 1 {
			fresh = append(fresh, urls[i])
		}
	}
	if len(fresh) == 0 {
		return 0, nil
	}
	queue := r.queueKey(jobID)
	if _, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, queue, fresh...)
		pipe.Expire(ctx, queue, frontierTTL)
		return nil
	}); err != nil {
		return 0, err
	}
	return len(fresh), nil
}

// Pop removes up to n URLs from the right side of the list.
func (r *FrontierRepoImpl) Pop(ctx context.Context, jobID string, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	urls, err := r.client.RPopCount(ctx, r.queueKey(jobID), n).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return urls, err
}

// Size returns the current number of items in the queue.
func (r *FrontierRepoImpl) Size(ctx context.Context, jobID string) (int64, error) {
	return r.client.LLen(ctx, r.queueKey(jobID)).Result()
}

func (r *FrontierRepoImpl) Clear(ctx context.Context, jobID string) error {
	return r.client.Del(ctx, r.queueKey(jobID), r.seenKey(jobID)).Err()
}
