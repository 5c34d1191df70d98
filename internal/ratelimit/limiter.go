// Package ratelimit enforces per-identity daily and hourly send caps with
// atomic Redis counters. The check-and-increment runs inside a Lua script so
// concurrent reservations can never exceed a cap.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/dispatch-engine/internal/domain"
)

// Keys are bucketed by calendar day and hour, so the hourly window rolls
// over independently of the daily one.
const reserveLuaScript = `
local dayKey = KEYS[1]
local hourKey = KEYS[2]
local dayLimit = tonumber(ARGV[1])
local hourLimit = tonumber(ARGV[2])
local dayTTL = tonumber(ARGV[3])
local hourTTL = tonumber(ARGV[4])

local dayCurrent = tonumber(redis.call("GET", dayKey) or "0")
local hourCurrent = tonumber(redis.call("GET", hourKey) or "0")

if dayLimit > 0 and dayCurrent + 1 > dayLimit then
    return {0, 1}
end
if hourLimit > 0 and hourCurrent + 1 > hourLimit then
    return {0, 2}
end

local newDay = redis.call("INCR", dayKey)
if newDay == 1 then
    redis.call("EXPIRE", dayKey, dayTTL)
end

local newHour = redis.call("INCR", hourKey)
if newHour == 1 then
    redis.call("EXPIRE", hourKey, hourTTL)
end

return {1, 0}
`

// Usage reports current window consumption for one sending identity.
type Usage struct {
	DayCurrent  int64 `json:"day_current"`
	DayLimit    int64 `json:"day_limit"`
	HourCurrent int64 `json:"hour_current"`
	HourLimit   int64 `json:"hour_limit"`
}

// Limiter reserves send slots against an identity's daily and hourly caps.
// TryReserve never blocks; a false result leaves both counters untouched
// and the caller decides how to handle the deferral.
type Limiter struct {
	redis         *redis.Client
	reserveScript *redis.Script
	now           func() time.Time
}

// NewLimiter creates a limiter on the given Redis client.
func NewLimiter(client *redis.Client) *Limiter {
	return &Limiter{
		redis:         client,
		reserveScript: redis.NewScript(reserveLuaScript),
		now:           time.Now,
	}
}

func dayKey(identityID string, t time.Time) string {
	return fmt.Sprintf("ratelimit:%s:day:%s", identityID, t.UTC().Format("2006-01-02"))
}

func hourKey(identityID string, t time.Time) string {
	return fmt.Sprintf("ratelimit:%s:hour:%s", identityID, t.UTC().Format("2006-01-02T15"))
}

// TryReserve atomically claims one send slot for the identity. Returns
// false when either the daily or hourly cap would be exceeded; in that case
// neither counter is incremented. A zero cap means unlimited for that
// window.
func (l *Limiter) TryReserve(ctx context.Context, identity *domain.SendingIdentity) (bool, error) {
	now := l.now()
	result, err := l.reserveScript.Run(ctx, l.redis,
		[]string{dayKey(identity.ID, now), hourKey(identity.ID, now)},
		identity.DailyLimit,
		identity.HourlyLimit,
		90000, // day TTL, 25h
		7200,  // hour TTL, 2h
	).Slice()
	if err != nil {
		return false, fmt.Errorf("rate limit reserve: %w", err)
	}
	return result[0].(int64) == 1, nil
}

// Usage returns the identity's current window consumption.
func (l *Limiter) Usage(ctx context.Context, identity *domain.SendingIdentity) (Usage, error) {
	now := l.now()
	pipe := l.redis.Pipeline()
	dayCmd := pipe.Get(ctx, dayKey(identity.ID, now))
	hourCmd := pipe.Get(ctx, hourKey(identity.ID, now))
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return Usage{}, fmt.Errorf("rate limit usage: %w", err)
	}

	day, _ := dayCmd.Int64()
	hour, _ := hourCmd.Int64()
	return Usage{
		DayCurrent:  day,
		DayLimit:    int64(identity.DailyLimit),
		HourCurrent: hour,
		HourLimit:   int64(identity.HourlyLimit),
	}, nil
}

// Close closes the underlying Redis connection.
func (l *Limiter) Close() error {
	return l.redis.Close()
}
