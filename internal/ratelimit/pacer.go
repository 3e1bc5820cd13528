package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Default pacer configuration values.
const (
	DefaultBaseDelay = 100 * time.Millisecond
	DefaultMaxDelay  = 10 * time.Second
	DefaultMaxWait   = 2 * time.Minute
)

// ErrBudgetWaitExceeded is returned when budget did not free up within MaxWait.
var ErrBudgetWaitExceeded = errors.New("timed out waiting for processor request budget")

// Pacer blocks processor calls until the shared budget admits them.
// Denials back off exponentially; a success resets the backoff.
type Pacer struct {
	budget           *RequestBudget
	baseDelay        time.Duration
	maxDelay         time.Duration
	maxWait          time.Duration
	currentDelay     time.Duration
	consecutiveFails int
	mu               sync.Mutex
}

// PacerConfig holds configuration for the pacer.
type PacerConfig struct {
	Budget    *RequestBudget
	BaseDelay time.Duration
	MaxDelay  time.Duration
	MaxWait   time.Duration
}

// NewPacer creates a pacer over budget.
func NewPacer(cfg *PacerConfig) (*Pacer, error) {
	if cfg == nil || cfg.Budget == nil {
		return nil, errors.New("budget is required")
	}
	if cfg.BaseDelay < 0 || cfg.MaxDelay < 0 || cfg.MaxWait < 0 {
		return nil, errors.New("delays cannot be negative")
	}

	base := cfg.BaseDelay
	if base == 0 {
		base = DefaultBaseDelay
	}
	maxDelay := cfg.MaxDelay
	if maxDelay == 0 {
		maxDelay = DefaultMaxDelay
	}
	if base > maxDelay {
		return nil, errors.New("base delay cannot exceed max delay")
	}
	maxWait := cfg.MaxWait
	if maxWait == 0 {
		maxWait = DefaultMaxWait
	}

	return &Pacer{
		budget:       cfg.Budget,
		baseDelay:    base,
		maxDelay:     maxDelay,
		maxWait:      maxWait,
		currentDelay: base,
	}, nil
}

// Wait blocks until one request is admitted for the priority tagged on ctx.
// Redis failures are returned immediately.
func (p *Pacer) Wait(ctx context.Context) error {
	priority := PriorityFromContext(ctx)
	deadline := time.Now().Add(p.maxWait)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		allowed, waitTime, err := p.budget.TryConsume(ctx, 1, priority)
		if err != nil {
			return err
		}
		if allowed {
			p.recordSuccess()
			return nil
		}

		delay := p.recordFailure()
		if waitTime > delay {
			delay = waitTime
		}
		if time.Now().Add(delay).After(deadline) {
			return ErrBudgetWaitExceeded
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (p *Pacer) recordSuccess() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.consecutiveFails = 0
	p.currentDelay = p.baseDelay
}

func (p *Pacer) recordFailure() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.consecutiveFails++
	next := p.baseDelay
	for i := 0; i < p.consecutiveFails; i++ {
		next *= 2
		if next > p.maxDelay {
			next = p.maxDelay
			break
		}
	}
	p.currentDelay = next
	return next
}

// CurrentDelay returns the current backoff delay.
func (p *Pacer) CurrentDelay() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currentDelay
}
