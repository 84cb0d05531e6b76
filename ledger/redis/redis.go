// Package redis provides a Redis-backed LedgerStore for modelrouter.
//
// Budget state lives in Redis hashes and every mutation runs as one Lua
// script, so any number of router instances can share a single ceiling.
package redis

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	mr "github.com/ineyio/modelrouter"
)

// Store is a Redis-backed LedgerStore.
type Store struct {
	client    goredis.Cmdable
	keyPrefix string
	now       func() time.Time

	mu     sync.RWMutex
	period mr.Period
}

var (
	_ mr.LedgerStore       = (*Store)(nil)
	_ mr.LedgerInitializer = (*Store)(nil)
)

// Option configures Store.
type Option func(*Store)

// WithKeyPrefix sets the Redis key prefix (default "modelrouter:ledger:").
// Instances sharing a prefix share a budget. On Redis Cluster the prefix
// must carry a hash tag, e.g. "{modelrouter}:ledger:", so scripts hit one slot.
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) { s.keyPrefix = prefix }
}

// WithClock sets the time source used to pick the billing period.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates a new Redis-backed LedgerStore.
// The client must be a connected *goredis.Client or *goredis.ClusterClient.
// Until SetBudget is called the ceiling is zero, so only free calls pass.
func New(client goredis.Cmdable, opts ...Option) *Store {
	s := &Store{
		client:    client,
		keyPrefix: "modelrouter:ledger:",
		now:       time.Now,
		period:    mr.PeriodMonthly,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) budgetKey() string         { return s.keyPrefix + "budget" }
func (s *Store) providerKey() string       { return s.keyPrefix + "by_provider" }
func (s *Store) holdsKey() string          { return s.keyPrefix + "holds" }
func (s *Store) idemKey(key string) string { return s.keyPrefix + "idem:" + key }

func (s *Store) currentPeriod() mr.Period {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.period
}

// rolloverLua resets spend when the stored period start differs from the
// caller's. Outstanding holds carry over.
const rolloverLua = `
local function rollover(budget_key, provider_key, period_start)
    if redis.call("HGET", budget_key, "period_start") ~= period_start then
        redis.call("HSET", budget_key, "period_start", period_start, "spent", "0")
        redis.call("DEL", provider_key)
    end
end
`

// reserveScript atomically checks and holds funds.
// KEYS[1] = budget hash, KEYS[2] = per-provider spend hash,
// KEYS[3] = holds hash, KEYS[4] = idempotency key
// ARGV[1] = amount, ARGV[2] = period start, ARGV[3] = hold id,
// ARGV[4] = has_idem ("1" or "0"), ARGV[5] = idempotency TTL seconds
//
// Returns:
//
//	1  = reserved OK
//	0  = budget exceeded
//	-1 = duplicate idempotency key
var reserveScript = goredis.NewScript(rolloverLua + `
local budget_key = KEYS[1]
local amount = tonumber(ARGV[1])
rollover(budget_key, KEYS[2], ARGV[2])

if ARGV[4] == "1" then
    if not redis.call("SET", KEYS[4], "1", "NX", "EX", tonumber(ARGV[5])) then
        return -1
    end
end

local total = tonumber(redis.call("HGET", budget_key, "total") or "0")
local spent = tonumber(redis.call("HGET", budget_key, "spent") or "0")
local reserved = tonumber(redis.call("HGET", budget_key, "reserved") or "0")

if amount > 0 and amount > total - spent - reserved then
    if ARGV[4] == "1" then
        redis.call("DEL", KEYS[4])
    end
    return 0
end

redis.call("HINCRBY", budget_key, "reserved", amount)
redis.call("HSET", KEYS[3], ARGV[3], amount)
return 1
`)

// commitScript releases a hold and charges min(actual, held).
// KEYS[1] = budget hash, KEYS[2] = per-provider spend hash, KEYS[3] = holds hash
// ARGV[1] = hold id, ARGV[2] = actual, ARGV[3] = period start, ARGV[4] = provider
var commitScript = goredis.NewScript(rolloverLua + `
rollover(KEYS[1], KEYS[2], ARGV[3])

local held = redis.call("HGET", KEYS[3], ARGV[1])
if not held then
    return -1
end
held = tonumber(held)
redis.call("HDEL", KEYS[3], ARGV[1])

local actual = tonumber(ARGV[2])
if actual > held then actual = held end
if actual < 0 then actual = 0 end

redis.call("HINCRBY", KEYS[1], "reserved", -held)
redis.call("HINCRBY", KEYS[1], "spent", actual)
if actual > 0 then
    redis.call("HINCRBY", KEYS[2], ARGV[4], actual)
end
return 1
`)

// rollbackScript releases a hold without charging.
// KEYS[1] = budget hash, KEYS[2] = holds hash
// ARGV[1] = hold id
var rollbackScript = goredis.NewScript(`
local held = redis.call("HGET", KEYS[2], ARGV[1])
if not held then
    return -1
end
redis.call("HDEL", KEYS[2], ARGV[1])
redis.call("HINCRBY", KEYS[1], "reserved", -tonumber(held))
return 1
`)

// statusScript returns total, spent, reserved followed by the flattened
// per-provider spend hash.
// KEYS[1] = budget hash, KEYS[2] = per-provider spend hash
// ARGV[1] = period start
var statusScript = goredis.NewScript(rolloverLua + `
rollover(KEYS[1], KEYS[2], ARGV[1])
local out = {
    redis.call("HGET", KEYS[1], "total") or "0",
    redis.call("HGET", KEYS[1], "spent") or "0",
    redis.call("HGET", KEYS[1], "reserved") or "0",
}
local flat = redis.call("HGETALL", KEYS[2])
for i = 1, #flat do
    out[#out + 1] = flat[i]
end
return out
`)

// Reserve holds amount if the budget allows it.
func (s *Store) Reserve(ctx context.Context, provider string, amount mr.Micros, idempotencyKey string) (mr.Reservation, error) {
	if amount < 0 {
		return mr.Reservation{}, fmt.Errorf("modelrouter/redis: negative reservation")
	}

	now := s.now()
	period := s.currentPeriod()
	start := period.Start(now)

	hasIdem := "0"
	idemK := s.idemKey("_noop")
	if idempotencyKey != "" {
		hasIdem = "1"
		idemK = s.idemKey(idempotencyKey)
	}
	ttl := int64(period.Next(now).Sub(now).Seconds()) + 1

	res := mr.Reservation{
		ID:       uuid.New().String(),
		Provider: provider,
		Amount:   amount,
	}

	result, err := reserveScript.Run(ctx, s.client,
		[]string{s.budgetKey(), s.providerKey(), s.holdsKey(), idemK},
		int64(amount), start.Unix(), res.ID, hasIdem, ttl,
	).Int64()
	if err != nil {
		return mr.Reservation{}, fmt.Errorf("modelrouter/redis: reserve: %w", err)
	}

	switch result {
	case 1:
		return res, nil
	case 0:
		return mr.Reservation{}, mr.ErrBudgetExceeded
	case -1:
		return mr.Reservation{}, fmt.Errorf("modelrouter: duplicate idempotency key %q", idempotencyKey)
	default:
		return mr.Reservation{}, fmt.Errorf("modelrouter/redis: unexpected reserve result: %d", result)
	}
}

// Commit finalizes a reservation with the actual cost.
func (s *Store) Commit(ctx context.Context, res mr.Reservation, actual mr.Micros) error {
	start := s.currentPeriod().Start(s.now())
	result, err := commitScript.Run(ctx, s.client,
		[]string{s.budgetKey(), s.providerKey(), s.holdsKey()},
		res.ID, int64(actual), start.Unix(), res.Provider,
	).Int64()
	if err != nil {
		return fmt.Errorf("modelrouter/redis: commit: %w", err)
	}
	if result != 1 {
		return fmt.Errorf("modelrouter/redis: unknown reservation %q", res.ID)
	}
	return nil
}

// Rollback releases a reservation that was not used.
func (s *Store) Rollback(ctx context.Context, res mr.Reservation) error {
	result, err := rollbackScript.Run(ctx, s.client,
		[]string{s.budgetKey(), s.holdsKey()},
		res.ID,
	).Int64()
	if err != nil {
		return fmt.Errorf("modelrouter/redis: rollback: %w", err)
	}
	if result != 1 {
		return fmt.Errorf("modelrouter/redis: unknown reservation %q", res.ID)
	}
	return nil
}

// Status returns a snapshot of the shared ledger.
func (s *Store) Status(ctx context.Context) (mr.BudgetStatus, error) {
	now := s.now()
	period := s.currentPeriod()

	vals, err := statusScript.Run(ctx, s.client,
		[]string{s.budgetKey(), s.providerKey()},
		period.Start(now).Unix(),
	).StringSlice()
	if err != nil {
		return mr.BudgetStatus{}, fmt.Errorf("modelrouter/redis: status: %w", err)
	}
	if len(vals) < 3 {
		return mr.BudgetStatus{}, fmt.Errorf("modelrouter/redis: status: short reply")
	}

	nums := make([]int64, 3)
	for i := range nums {
		if nums[i], err = strconv.ParseInt(vals[i], 10, 64); err != nil {
			return mr.BudgetStatus{}, fmt.Errorf("modelrouter/redis: status: %w", err)
		}
	}

	byProvider := make(map[string]mr.Micros)
	for i := 3; i+1 < len(vals); i += 2 {
		v, err := strconv.ParseInt(vals[i+1], 10, 64)
		if err != nil {
			return mr.BudgetStatus{}, fmt.Errorf("modelrouter/redis: status: %w", err)
		}
		byProvider[vals[i]] = mr.Micros(v)
	}

	return mr.NewBudgetStatus(mr.Micros(nums[0]), mr.Micros(nums[1]), mr.Micros(nums[2]), byProvider, period, now), nil
}

// SetBudget sets the shared ceiling and period. Spend and holds are preserved.
func (s *Store) SetBudget(ctx context.Context, total mr.Micros, period mr.Period) error {
	if total < 0 {
		return fmt.Errorf("modelrouter/redis: negative budget")
	}
	if period == "" {
		period = mr.PeriodMonthly
	}

	s.mu.Lock()
	s.period = period
	s.mu.Unlock()

	key := s.budgetKey()
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, "total", int64(total), "period", string(period))
	pipe.HSetNX(ctx, key, "spent", 0)
	pipe.HSetNX(ctx, key, "reserved", 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("modelrouter/redis: set budget: %w", err)
	}
	return nil
}
