package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/user/rag-service/pkg/utils"
)

const (
	visitedKeyPrefix = "crawler:visited:"
	visitedTTL       = 24 * time.Hour
)

// VisitedRepoImpl keeps the URLs fetched by a job in a Redis set of URL hashes.
type VisitedRepoImpl struct {
	client *redis.Client
}

// NewVisitedRepo creates a new instance of VisitedRepoImpl.
func NewVisitedRepo(client *redis.Client) *VisitedRepoImpl {
	return &VisitedRepoImpl{client: client}
}

func (r *VisitedRepoImpl) key(jobID string) string {
	return visitedKeyPrefix + jobID
}

// MarkVisited adds the URL hash to the set. SADD is atomic, so only one
// concurrent caller sees true.
func (r *VisitedRepoImpl) MarkVisited(ctx context.Context, jobID, url string) (bool, error) {
	key := r.key(jobID)
	var added *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		added = pipe.SAdd(ctx, key, utils.HashURL(url))
		pipe.Expire(ctx, key, visitedTTL)
		return nil
	})
	if err != nil {
		return false, err
	}
	return added.Val() == 1, nil
}

func (r *VisitedRepoImpl) IsVisited(ctx context.Context, jobID, url string) (bool, error) {
	return r.client.SIsMember(ctx, r.key(jobID), utils.HashURL(url)).Result()
}

func (r *VisitedRepoImpl) Count(ctx context.Context, jobID string) (int64, error) {
	return r.client.SCard(ctx, r.key(jobID)).Result()
}

func (r *VisitedRepoImpl) Clear(ctx context.Context, jobID string) error {
	return r.client.Del(ctx, r.key(jobID)).Err()
}
