// Package ratelimit coordinates payment processor request volume across workers using Redis.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/tip-ledger/internal/errors"
)

// Default budget configuration values.
const (
	DefaultTotalBudget       = 5000        // processor requests per window
	DefaultHighPriorityShare = 0.2         // share reserved for webhook-driven work
	DefaultWindowSize        = time.Minute // fixed window aligned to the clock
)

// Redis key prefixes for request tracking.
const (
	KeyPrefixTotal = "processor:budget:total:"
	KeyPrefixHigh  = "processor:budget:high:"
	KeyPrefixLow   = "processor:budget:low:"
)

// Priority selects the budget pool a request draws from.
type Priority int

const (
	// PriorityHigh is for webhook-triggered syncs and reconciliations.
	PriorityHigh Priority = iota
	// PriorityLow is for scheduled batch syncs and backfills.
	PriorityLow
)

// String returns a string representation of the priority level.
func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityLow:
		return "low"
	default:
		return "unknown"
	}
}

type priorityKey struct{}

// WithPriority tags ctx so processor calls made under it draw from the given pool.
func WithPriority(ctx context.Context, p Priority) context.Context {
	return context.WithValue(ctx, priorityKey{}, p)
}

// PriorityFromContext returns the pool tagged on ctx, PriorityLow by default.
func PriorityFromContext(ctx context.Context) Priority {
	if p, ok := ctx.Value(priorityKey{}).(Priority); ok {
		return p
	}
	return PriorityLow
}

// consumeScript checks both the total and the pool counter and increments them atomically.
var consumeScript = redis.NewScript(`
	local totalKey = KEYS[1]
	local poolKey = KEYS[2]
	local n = tonumber(ARGV[1])
	local totalBudget = tonumber(ARGV[2])
	local poolBudget = tonumber(ARGV[3])
	local ttl = tonumber(ARGV[4])

	local totalUsed = tonumber(redis.call('GET', totalKey) or '0')
	local poolUsed = tonumber(redis.call('GET', poolKey) or '0')

	if totalUsed + n > totalBudget then
		return {0, totalUsed, poolUsed}
	end
	if poolUsed + n > poolBudget then
		return {0, totalUsed, poolUsed}
	end

	redis.call('INCRBY', totalKey, n)
	redis.call('EXPIRE', totalKey, ttl)
	redis.call('INCRBY', poolKey, n)
	redis.call('EXPIRE', poolKey, ttl)

	return {1, totalUsed + n, poolUsed + n}
`)

// RequestBudget shares a processor request budget between every worker and server process.
// Each window is split into a reserved high priority pool and a low priority pool.
type RequestBudget struct {
	redis       redis.Cmdable
	totalBudget int
	highBudget  int
	lowBudget   int
	windowSize  time.Duration
	keyTTL      time.Duration
	now         func() time.Time
}

// BudgetConfig holds configuration for the request budget.
type BudgetConfig struct {
	// Redis is required; the budget is meaningless without shared state.
	Redis redis.Cmdable

	// TotalBudget is the number of processor requests allowed per window. Default: 5000.
	TotalBudget int

	// HighPriorityShare is the fraction of TotalBudget reserved for PriorityHigh. Default: 0.2.
	HighPriorityShare float64

	// WindowSize is the window duration. Default: 1m.
	WindowSize time.Duration
}

// Validate checks if the configuration is valid.
func (c *BudgetConfig) Validate() error {
	if c.Redis == nil {
		return errors.New("redis client is required")
	}
	if c.TotalBudget < 0 {
		return errors.New("total budget cannot be negative")
	}
	if c.HighPriorityShare < 0 || c.HighPriorityShare > 1 {
		return fmt.Errorf("high priority share must be between 0 and 1, got %v", c.HighPriorityShare)
	}
	if c.WindowSize < 0 {
		return errors.New("window size cannot be negative")
	}
	return nil
}

// UsageStats contains consumption for the current window.
type UsageStats struct {
	TotalUsed   int       `json:"totalUsed"`
	HighUsed    int       `json:"highUsed"`
	LowUsed     int       `json:"lowUsed"`
	TotalBudget int       `json:"totalBudget"`
	HighBudget  int       `json:"highBudget"`
	LowBudget   int       `json:"lowBudget"`
	WindowStart time.Time `json:"windowStart"`
}

// NewRequestBudget creates a budget with the given configuration.
func NewRequestBudget(cfg *BudgetConfig) (*RequestBudget, error) {
	if cfg == nil {
		return nil, errors.New("configuration is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	total := cfg.TotalBudget
	if total == 0 {
		total = DefaultTotalBudget
	}
	share := cfg.HighPriorityShare
	if share == 0 {
		share = DefaultHighPriorityShare
	}
	window := cfg.WindowSize
	if window == 0 {
		window = DefaultWindowSize
	}

	high := int(float64(total) * share)
	return &RequestBudget{
		redis:       cfg.Redis,
		totalBudget: total,
		highBudget:  high,
		lowBudget:   total - high,
		windowSize:  window,
		keyTTL:      2 * window,
		now:         time.Now,
	}, nil
}

func (b *RequestBudget) windowStart() time.Time {
	return b.now().Truncate(b.windowSize)
}

func (b *RequestBudget) keys(windowStart time.Time) (total, high, low string) {
	ts := strconv.FormatInt(windowStart.UnixMilli(), 10)
	return KeyPrefixTotal + ts, KeyPrefixHigh + ts, KeyPrefixLow + ts
}

// TryConsume attempts to take n requests from the pool for priority.
// When denied it returns the time until the next window opens.
func (b *RequestBudget) TryConsume(ctx context.Context, n int, priority Priority) (bool, time.Duration, error) {
	if n <= 0 {
		return true, 0, nil
	}

	start := b.windowStart()
	totalKey, highKey, lowKey := b.keys(start)

	poolKey, poolBudget := lowKey, b.lowBudget
	if priority == PriorityHigh {
		poolKey, poolBudget = highKey, b.highBudget
	}

	ttlSeconds := int(b.keyTTL.Seconds())
	if ttlSeconds < 1 {
		ttlSeconds = 1
	}

	result, err := consumeScript.Run(ctx, b.redis, []string{totalKey, poolKey},
		n, b.totalBudget, poolBudget, ttlSeconds).Int64Slice()
	if err != nil {
		return false, b.untilNextWindow(start), apperrors.NewCacheError("consume request budget", err)
	}

	if result[0] != 1 {
		return false, b.untilNextWindow(start), nil
	}
	return true, 0, nil
}

func (b *RequestBudget) untilNextWindow(start time.Time) time.Duration {
	wait := start.Add(b.windowSize).Sub(b.now())
	if wait < 0 {
		wait = 0
	}
	return wait + time.Millisecond
}

// GetUsage returns consumption for the current window.
func (b *RequestBudget) GetUsage(ctx context.Context) (*UsageStats, error) {
	start := b.windowStart()
	totalKey, highKey, lowKey := b.keys(start)

	pipe := b.redis.Pipeline()
	totalCmd := pipe.Get(ctx, totalKey)
	highCmd := pipe.Get(ctx, highKey)
	lowCmd := pipe.Get(ctx, lowKey)

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, apperrors.NewCacheError("read request budget", err)
	}

	return &UsageStats{
		TotalUsed:   parseIntOrZero(totalCmd),
		HighUsed:    parseIntOrZero(highCmd),
		LowUsed:     parseIntOrZero(lowCmd),
		TotalBudget: b.totalBudget,
		HighBudget:  b.highBudget,
		LowBudget:   b.lowBudget,
		WindowStart: start,
	}, nil
}

func parseIntOrZero(cmd *redis.StringCmd) int {
	val, err := cmd.Int()
	if err != nil {
		return 0
	}
	return val
}

// Utilization returns total usage of the current window as a percentage (0-100).
func (b *RequestBudget) Utilization(ctx context.Context) (float64, error) {
	stats, err := b.GetUsage(ctx)
	if err != nil {
		return 0, err
	}
	if b.totalBudget == 0 {
		return 100, nil
	}
	return float64(stats.TotalUsed) * 100 / float64(b.totalBudget), nil
}
