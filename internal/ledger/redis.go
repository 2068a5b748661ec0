package ledger

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/DukeRupert/kerf/internal/domain"
)

const (
	dailyKeyTTL   = 48 * time.Hour
	monthlyKeyTTL = 35 * 24 * time.Hour
)

// incrementScript checks and bumps the daily and monthly counters in one
// server-side step. ARGV[5] == "1" enables the limit check.
//
// Returns {applied, daily, monthly}.
var incrementScript = redis.NewScript(`
local daily = tonumber(redis.call('GET', KEYS[1]) or '0')
local monthly = tonumber(redis.call('GET', KEYS[2]) or '0')

if ARGV[5] == '1' then
	local dailyLimit = tonumber(ARGV[1])
	local monthlyLimit = tonumber(ARGV[2])
	if (dailyLimit >= 0 and daily >= dailyLimit) or (monthlyLimit >= 0 and monthly >= monthlyLimit) then
		return {0, daily, monthly}
	end
end

daily = redis.call('INCR', KEYS[1])
monthly = redis.call('INCR', KEYS[2])
if redis.call('TTL', KEYS[1]) < 0 then
	redis.call('EXPIRE', KEYS[1], ARGV[3])
end
if redis.call('TTL', KEYS[2]) < 0 then
	redis.call('EXPIRE', KEYS[2], ARGV[4])
end
return {1, daily, monthly}
`)

// Redis is the Ledger backed by Redis counters. Daily keys expire after two
// days and monthly keys after 35 days, so old windows age out on their own.
type Redis struct {
	client redis.UniversalClient
}

// NewRedis creates a ledger over the given client.
func NewRedis(client redis.UniversalClient) *Redis {
	return &Redis{client: client}
}

// The hash tag keeps both keys of one user and feature in the same cluster slot.
func redisKeys(userID string, feature domain.Feature, day time.Time) (string, string) {
	tag := fmt.Sprintf("usage:{%s:%s}", userID, feature)
	return tag + ":d:" + day.Format("2006-01-02"), tag + ":m:" + day.Format("2006-01")
}

func (r *Redis) GetUsage(ctx context.Context, userID string, feature domain.Feature, day time.Time) (domain.UsageRecord, error) {
	recs, err := r.ListUsage(ctx, userID, day, []domain.Feature{feature})
	if err != nil {
		return domain.UsageRecord{}, err
	}
	return recs[0], nil
}

func (r *Redis) IncrementUsage(ctx context.Context, userID string, feature domain.Feature, day time.Time) (domain.UsageRecord, error) {
	rec, _, err := r.run(ctx, "ledger.redis.increment_usage", userID, feature, day, domain.Limit{}, false)
	return rec, err
}

func (r *Redis) IncrementWithin(ctx context.Context, userID string, feature domain.Feature, day time.Time, limit domain.Limit) (domain.UsageRecord, error) {
	rec, applied, err := r.run(ctx, "ledger.redis.increment_within", userID, feature, day, limit, true)
	if err != nil {
		return domain.UsageRecord{}, err
	}
	if !applied {
		return rec, ErrLimitReached
	}
	return rec, nil
}

func (r *Redis) run(ctx context.Context, op, userID string, feature domain.Feature, day time.Time, limit domain.Limit, enforce bool) (domain.UsageRecord, bool, error) {
	dk, mk := redisKeys(userID, feature, day)
	enforceArg := "0"
	if enforce {
		enforceArg = "1"
	}

	res, err := incrementScript.Run(ctx, r.client, []string{dk, mk},
		limit.Daily,
		limit.Monthly,
		int(dailyKeyTTL.Seconds()),
		int(monthlyKeyTTL.Seconds()),
		enforceArg,
	).Int64Slice()
	if err != nil {
		return domain.UsageRecord{}, false, domain.StorageUnavailable(err, op, "Usage could not be recorded")
	}
	if len(res) != 3 {
		return domain.UsageRecord{}, false, domain.StorageUnavailable(
			fmt.Errorf("unexpected script reply of length %d", len(res)), op, "Usage could not be recorded")
	}

	rec := emptyRecord(userID, feature, day)
	rec.DailyCount = int(res[1])
	rec.MonthlyCount = int(res[2])
	return rec, res[0] == 1, nil
}

func (r *Redis) ListUsage(ctx context.Context, userID string, day time.Time, features []domain.Feature) ([]domain.UsageRecord, error) {
	const op = "ledger.redis.list_usage"

	keys := make([]string, 0, len(features)*2)
	for _, f := range features {
		dk, mk := redisKeys(userID, f, day)
		keys = append(keys, dk, mk)
	}

	// Keys of different features may live in different slots, so read them
	// through a pipeline rather than a single MGET.
	pipe := r.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(keys))
	for i, k := range keys {
		cmds[i] = pipe.Get(ctx, k)
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, domain.StorageUnavailable(err, op, "Usage could not be read")
	}

	out := make([]domain.UsageRecord, 0, len(features))
	for i, f := range features {
		rec := emptyRecord(userID, f, day)
		var err error
		if rec.DailyCount, err = counterValue(cmds[2*i]); err != nil {
			return nil, domain.StorageUnavailable(err, op, "Usage could not be read")
		}
		if rec.MonthlyCount, err = counterValue(cmds[2*i+1]); err != nil {
			return nil, domain.StorageUnavailable(err, op, "Usage could not be read")
		}
		out = append(out, rec)
	}
	return out, nil
}

func counterValue(cmd *redis.StringCmd) (int, error) {
	s, err := cmd.Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(s)
}
