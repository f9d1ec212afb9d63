// Package ratelimit implements the fixed-window per-sender and
// per-domain counters that gate ingress acceptance.
package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Plan is the billing tier a sender is rate-limited under.
type Plan string

const (
	PlanBeta Plan = "BETA"
	PlanPro  Plan = "PRO"
)

// Window names a fixed-window bucket kind.
type Window string

const (
	WindowHour  Window = "hour"
	WindowDay   Window = "day"
	WindowMonth Window = "month"
)

// Limits for the BETA plan. PRO uses a 5x multiplier of these as a
// documented extension point (spec.md §4.2 only specifies BETA).
const (
	betaSenderHourLimit  = 20
	betaSenderDayLimit   = 50
	betaSenderMonthLimit = 300
	betaDomainHourLimit  = 50

	proMultiplier = 5
)

// knownProviderDomains are multi-tenant email providers exempt from the
// per-domain rate limit, matching spec.md §8's "known-provider set".
var knownProviderDomains = map[string]bool{
	"gmail.com":   true,
	"outlook.com": true,
	"hotmail.com": true,
	"yahoo.com":   true,
	"icloud.com":  true,
}

// incrAndCheck atomically increments key, sets its expiry to ttl only
// if this increment created the key, and returns the post-increment
// value. A single Lua script keeps the increment-expire pair atomic
// per spec.md §4.2's concurrency requirement.
const incrAndCheckScript = `
local count = redis.call("INCR", KEYS[1])
if count == 1 then
    redis.call("EXPIRE", KEYS[1], ARGV[1])
end
return count
`

// Limiter enforces fixed-window rate limits via Redis.
type Limiter struct {
	rdb *redis.Client
}

// New wraps an established Redis client.
func New(rdb *redis.Client) *Limiter {
	return &Limiter{rdb: rdb}
}

// Result describes the outcome of a rate-limit check.
type Result struct {
	Allowed   bool
	Dimension string // e.g. "email" or "domain"
	Window    Window
	Plan      Plan
}

// Message renders the human-readable rejection message spec.md §6 names.
func (r Result) Message() string {
	return fmt.Sprintf("Rate limit exceeded — %s %s for %s plan", r.Dimension, r.Window, strings.ToLower(string(r.Plan)))
}

// NormalizeSender lowercases the address and strips a "+tag" alias from
// the local-part, per spec.md §4.2.
func NormalizeSender(address string) (local, domain string) {
	address = strings.ToLower(strings.TrimSpace(address))
	at := strings.LastIndex(address, "@")
	if at < 0 {
		return address, ""
	}
	local = address[:at]
	domain = address[at+1:]
	if plus := strings.Index(local, "+"); plus >= 0 {
		local = local[:plus]
	}
	return local, domain
}

func windowBucket(window Window, now time.Time) (string, int64) {
	now = now.UTC()
	switch window {
	case WindowHour:
		return now.Format("2006010215"), int64(time.Hour.Seconds())
	case WindowDay:
		return now.Format("20060102"), int64((24 * time.Hour).Seconds())
	case WindowMonth:
		return now.Format("200601"), int64((31 * 24 * time.Hour).Seconds())
	default:
		return now.Format("2006010215"), int64(time.Hour.Seconds())
	}
}

func planLimit(base int, plan Plan) int {
	if plan == PlanPro {
		return base * proMultiplier
	}
	return base
}

// Check runs every applicable counter for sender/domain and returns the
// first one that exceeds its limit, or an Allowed result if none do.
// Every counter is always incremented regardless of outcome, per
// spec.md §4.2's "counters must not be decremented on rejection".
func (l *Limiter) Check(ctx context.Context, sender string, plan Plan, now time.Time) (Result, error) {
	local, domain := NormalizeSender(sender)
	normalizedSender := local + "@" + domain

	type counter struct {
		dimension string
		window    Window
		key       string
		limit     int
	}

	hourBucket, hourTTL := windowBucket(WindowHour, now)
	dayBucket, dayTTL := windowBucket(WindowDay, now)
	monthBucket, monthTTL := windowBucket(WindowMonth, now)

	counters := []counter{
		{"email", WindowHour, fmt.Sprintf("ratelimit:email:%s:hour:%s", normalizedSender, hourBucket), planLimit(betaSenderHourLimit, plan)},
		{"email", WindowDay, fmt.Sprintf("ratelimit:email:%s:day:%s", normalizedSender, dayBucket), planLimit(betaSenderDayLimit, plan)},
		{"email", WindowMonth, fmt.Sprintf("ratelimit:email:%s:month:%s", normalizedSender, monthBucket), planLimit(betaSenderMonthLimit, plan)},
	}
	ttls := map[Window]int64{WindowHour: hourTTL, WindowDay: dayTTL, WindowMonth: monthTTL}

	if !knownProviderDomains[domain] {
		counters = append(counters, counter{"domain", WindowHour, fmt.Sprintf("ratelimit:domain:%s:hour:%s", domain, hourBucket), planLimit(betaDomainHourLimit, plan)})
	}

	var exceeded *Result
	for _, c := range counters {
		count, err := l.rdb.Eval(ctx, incrAndCheckScript, []string{c.key}, ttls[c.window]).Int64()
		if err != nil {
			return Result{}, fmt.Errorf("ratelimit: incr %s: %w", c.key, err)
		}
		if exceeded == nil && int(count) > c.limit {
			exceeded = &Result{Allowed: false, Dimension: c.dimension, Window: c.window, Plan: plan}
		}
	}

	if exceeded != nil {
		return *exceeded, nil
	}
	return Result{Allowed: true, Plan: plan}, nil
}
