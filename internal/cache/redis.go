package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"capledger.org/internal/audit"
	"capledger.org/internal/ledger"
	"capledger.org/internal/obs"
)

const (
	keyPrefix = "captable:stats:"
	genPrefix = "captable:gen:"
)

// Connect opens a client and pings the server.
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	pong, err := rdb.Ping(ctx).Result()
	if err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	obs.Logger().Info().Str("addr", addr).Str("pong", pong).Msg("redis connected")
	return rdb, nil
}

// RedisStats keeps company statistics as JSON values with a TTL under
// captable:stats:<company>:<generation>. Invalidate INCRs captable:gen:<company>, so an
// entry written from a snapshot older than the last commit is never read again.
type RedisStats struct {
	redis *redis.Client
	ttl   time.Duration
}

var _ ledger.StatsCache = (*RedisStats)(nil)

func NewRedisStats(client *redis.Client, ttl time.Duration) *RedisStats {
	return &RedisStats{redis: client, ttl: ttl}
}

func statsKey(companyID string, gen int64) string {
	return keyPrefix + companyID + ":" + strconv.FormatInt(gen, 10)
}

func genKey(companyID string) string { return genPrefix + companyID }

// Generation returns the current generation of a company, 0 before its first write.
func (r *RedisStats) Generation(ctx context.Context, companyID string) (int64, error) {
	gen, err := r.redis.Get(ctx, genKey(companyID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		obs.Logger().Error().Err(err).Str("rqID", audit.RequestIDFromContext(ctx)).Str("key", genKey(companyID)).Msg("failed on redis.Get")
		return 0, fmt.Errorf("redis get generation: %w", err)
	}
	return gen, nil
}

func (r *RedisStats) GetCompanyStatistics(ctx context.Context, companyID string, gen int64) (ledger.CompanyShareStatistics, bool, error) {
	rqID := audit.RequestIDFromContext(ctx)
	key := statsKey(companyID, gen)
	res, err := r.redis.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return ledger.CompanyShareStatistics{}, false, nil
	}
	if err != nil {
		obs.Logger().Error().Err(err).Str("rqID", rqID).Str("key", key).Msg("failed on redis.Get")
		return ledger.CompanyShareStatistics{}, false, err
	}

	var st ledger.CompanyShareStatistics
	if err := json.Unmarshal([]byte(res), &st); err != nil {
		obs.Logger().Error().Err(err).Str("rqID", rqID).Str("key", key).Msg("can't unmarshal statistics")
		return ledger.CompanyShareStatistics{}, false, fmt.Errorf("decode cached statistics: %w", err)
	}
	return st, true, nil
}

func (r *RedisStats) SetCompanyStatistics(ctx context.Context, gen int64, st ledger.CompanyShareStatistics) error {
	body, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode statistics: %w", err)
	}
	if err := r.redis.Set(ctx, statsKey(st.CompanyID, gen), body, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Invalidate advances the generation and drops the entry of the previous one.
func (r *RedisStats) Invalidate(ctx context.Context, companyID string) error {
	gen, err := r.redis.Incr(ctx, genKey(companyID)).Result()
	if err != nil {
		return fmt.Errorf("redis incr: %w", err)
	}
	if err := r.redis.Del(ctx, statsKey(companyID, gen-1)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
