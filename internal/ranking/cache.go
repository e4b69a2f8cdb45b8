package ranking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ZJUSCT/CSLearn/internal/metrics"
	"github.com/ZJUSCT/CSLearn/internal/progress"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const pageKeyFmt = "ranking:%s:%s:%s:%d"

// Cache stores rendered ranking pages. Misses and failures both read through to the database.
type Cache interface {
	Get(ctx context.Context, key string) (*Page, bool)
	Set(ctx context.Context, key string, page *Page)
	Close() error
}

type NoopCache struct{}

func (NoopCache) Get(context.Context, string) (*Page, bool) { return nil, false }
func (NoopCache) Set(context.Context, string, *Page)         {}
func (NoopCache) Close() error                               { return nil }

// RedisCache keeps pages as JSON strings that expire after ttl.
type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisCache(addr, password string, db int, ttl time.Duration) (*RedisCache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	zap.S().Infof("ranking cache connected to redis at %s", addr)
	return &RedisCache{rdb: rdb, ttl: ttl}, nil
}

func (c *RedisCache) Get(ctx context.Context, key string) (*Page, bool) {
	data, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			zap.S().Warnf("ranking cache read of %s failed: %v", key, err)
		}
		return nil, false
	}
	var page Page
	if err := json.Unmarshal(data, &page); err != nil {
		zap.S().Warnf("ranking cache entry %s is corrupt: %v", key, err)
		return nil, false
	}
	return &page, true
}

func (c *RedisCache) Set(ctx context.Context, key string, page *Page) {
	data, err := json.Marshal(page)
	if err != nil {
		zap.S().Warnf("failed to encode ranking page %s: %v", key, err)
		return
	}
	if err := c.rdb.Set(ctx, key, data, c.ttl).Err(); err != nil {
		zap.S().Warnf("ranking cache write of %s failed: %v", key, err)
	}
}

func (c *RedisCache) Close() error {
	return c.rdb.Close()
}

// Ranker serves ranking pages through the cache.
type Ranker struct {
	db    *gorm.DB
	cache Cache
	now   func() time.Time
	loc   *time.Location
}

func NewRanker(db *gorm.DB, cache Cache, loc *time.Location) *Ranker {
	if cache == nil {
		cache = NoopCache{}
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Ranker{db: db, cache: cache, now: time.Now, loc: loc}
}

// Page resolves metricName against the current time and returns one ranking page.
func (r *Ranker) Page(ctx context.Context, courseID, metricName, after string, size int) (*Page, error) {
	metric, err := progress.ParseMetric(metricName, r.now().In(r.loc))
	if err != nil {
		return nil, err
	}
	if size <= 0 || size > MaxPageSize {
		size = DefaultPageSize
	}
	key := fmt.Sprintf(pageKeyFmt, courseID, metric.Key(), after, size)
	if page, ok := r.cache.Get(ctx, key); ok {
		metrics.IncRankingCache("hit")
		return page, nil
	}
	metrics.IncRankingCache("miss")

	page, err := GetRankingPage(ctx, r.db, courseID, metric, after, size)
	if err != nil {
		return nil, err
	}
	r.cache.Set(ctx, key, page)
	return page, nil
}

// Levels returns the exercise breakdown of one level for the given users.
func (r *Ranker) Levels(ctx context.Context, courseID string, level int, metricName string, userIDs []string) (LevelProgress, error) {
	metric, err := progress.ParseMetric(metricName, r.now().In(r.loc))
	if err != nil {
		return nil, err
	}
	return GetLevelExerciseProgressAll(ctx, r.db, courseID, level, metric, userIDs)
}
