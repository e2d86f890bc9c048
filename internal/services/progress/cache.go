package progress

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/ternarybob/arbor"

	"github.com/alaamer12/pixcrawler/internal/common"
	"github.com/alaamer12/pixcrawler/internal/interfaces"
)

// Cache is the advisory Redis snapshot cache for job progress. Every
// failure degrades to a direct datastore read; the cache is never a source
// of correctness.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	logger arbor.ILogger
}

// NewCache connects to Redis, or returns nil when no address is configured.
// A nil *Cache is safe to use; all operations degrade.
func NewCache(cfg *common.RedisConfig, logger arbor.ILogger) *Cache {
	if cfg.Addr == "" {
		logger.Debug().Msg("Progress cache disabled (no redis address)")
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 10 * time.Second
	}

	logger.Info().Str("addr", cfg.Addr).Dur("ttl", ttl).Msg("Progress cache enabled")
	return &Cache{
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

func cacheKey(jobID string) string {
	return "pixcrawler:progress:" + jobID
}

// Get returns a cached snapshot when present and fresh.
func (c *Cache) Get(ctx context.Context, jobID string) (*interfaces.ProgressSnapshot, bool) {
	if c == nil {
		return nil, false
	}

	data, err := c.client.Get(ctx, cacheKey(jobID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Debug().Err(err).Str("job_id", jobID).Msg("Progress cache read failed, falling back to datastore")
		}
		return nil, false
	}

	var snapshot interfaces.ProgressSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		c.logger.Debug().Err(err).Str("job_id", jobID).Msg("Progress cache entry unreadable, falling back to datastore")
		return nil, false
	}
	return &snapshot, true
}

// Put stores a snapshot with the configured TTL. Failures are logged only.
func (c *Cache) Put(ctx context.Context, snapshot *interfaces.ProgressSnapshot) {
	if c == nil || snapshot == nil {
		return
	}

	data, err := json.Marshal(snapshot)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, cacheKey(snapshot.JobID), data, c.ttl).Err(); err != nil {
		c.logger.Debug().Err(err).Str("job_id", snapshot.JobID).Msg("Progress cache write failed")
	}
}

// Close releases the Redis connection.
func (c *Cache) Close() error {
	if c == nil {
		return nil
	}
	return c.client.Close()
}
