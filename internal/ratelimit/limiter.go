// Package ratelimit gates outgoing broker calls per (tool, callerRole) with
// configurable per-minute/per-hour caps and a minimum cooldown (spec §5),
// and wraps the broker client in a circuit breaker (internal/ratelimit/breaker.go).
package ratelimit

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Decision is the structured refusal/approval the spec requires outgoing
// broker calls to receive.
type Decision struct {
	Allowed bool
	WaitMs  int64
	Reason  string
}

// Rule configures the caps for one (tool, callerRole) pair.
type Rule struct {
	PerMinute  int
	PerHour    int
	Cooldown   time.Duration
}

// Limiter tracks a rate.Limiter pair (per-minute, per-hour) plus last-call
// time per (tool, callerRole) key, grounded on the teacher pack's order
// executor use of golang.org/x/time/rate for outbound throttling.
type Limiter struct {
	mu       sync.Mutex
	rules    map[string]Rule
	minute   map[string]*rate.Limiter
	hour     map[string]*rate.Limiter
	lastCall map[string]time.Time
	now      func() time.Time
}

func NewLimiter(rules map[string]Rule) *Limiter {
	return &Limiter{
		rules:    rules,
		minute:   make(map[string]*rate.Limiter),
		hour:     make(map[string]*rate.Limiter),
		lastCall: make(map[string]time.Time),
		now:      time.Now,
	}
}

func key(tool, callerRole string) string {
	return tool + "|" + callerRole
}

func (l *Limiter) ruleFor(k string) Rule {
	if r, ok := l.rules[k]; ok {
		return r
	}
	return Rule{PerMinute: 60, PerHour: 1000, Cooldown: 0}
}

func (l *Limiter) limitersFor(k string) (*rate.Limiter, *rate.Limiter) {
	m, ok := l.minute[k]
	if !ok {
		r := l.ruleFor(k)
		m = rate.NewLimiter(rate.Limit(float64(r.PerMinute)/60.0), max(1, r.PerMinute))
		l.minute[k] = m
	}
	h, ok := l.hour[k]
	if !ok {
		r := l.ruleFor(k)
		h = rate.NewLimiter(rate.Limit(float64(r.PerHour)/3600.0), max(1, r.PerHour))
		l.hour[k] = h
	}
	return m, h
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// Check evaluates whether a call to tool on behalf of callerRole may proceed
// right now. It does not block; callers sleep WaitMs themselves (so the
// sleep is cancellable via their own context/clock), then may retry.
func (l *Limiter) Check(tool, callerRole string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	k := key(tool, callerRole)
	rule := l.ruleFor(k)
	now := l.now()

	if rule.Cooldown > 0 {
		if last, ok := l.lastCall[k]; ok {
			if elapsed := now.Sub(last); elapsed < rule.Cooldown {
				wait := rule.Cooldown - elapsed
				return Decision{Allowed: false, WaitMs: wait.Milliseconds(), Reason: fmt.Sprintf("cooldown: %s must wait %s between calls", k, rule.Cooldown)}
			}
		}
	}

	minuteLimiter, hourLimiter := l.limitersFor(k)

	minuteRes := minuteLimiter.ReserveN(now, 1)
	if delay := minuteRes.DelayFrom(now); delay > 0 {
		minuteRes.Cancel()
		return Decision{Allowed: false, WaitMs: delay.Milliseconds(), Reason: fmt.Sprintf("%s exceeded per-minute cap of %d", k, rule.PerMinute)}
	}

	hourRes := hourLimiter.ReserveN(now, 1)
	if delay := hourRes.DelayFrom(now); delay > 0 {
		hourRes.Cancel()
		minuteRes.Cancel()
		return Decision{Allowed: false, WaitMs: delay.Milliseconds(), Reason: fmt.Sprintf("%s exceeded per-hour cap of %d", k, rule.PerHour)}
	}

	l.lastCall[k] = now
	return Decision{Allowed: true}
}
