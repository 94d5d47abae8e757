// Package ratelimit is the per-identity rate limiter (C5): an hourly and
// daily request budget, a connection-count cap, and a windowed
// per-connection message rate, all backed by atomic counters in the KV
// store with TTLs matching their windows.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/evalgo/flowcollab/internal/kv"
)

// Kind names which budget a checkAndConsume call is spending against.
type Kind string

const (
	RequestHour Kind = "request_hour"
	RequestDay  Kind = "request_day"
	Connection  Kind = "connection"
	Message     Kind = "message"
)

// Limits is one tier's set of budgets.
type Limits struct {
	MaxPerHour        int
	MaxPerDay         int
	MaxConnections    int
	MaxMessagesPerSec int
}

// Result is what checkAndConsume returns.
type Result struct {
	Allowed bool
	Reason  string
}

// Limiter enforces Limits per (identity, tier) pair.
type Limiter struct {
	store *kv.Store
	tiers map[string]Limits
}

// New builds a limiter from the configured per-tier budgets.
func New(store *kv.Store, tiers map[string]Limits) *Limiter {
	return &Limiter{store: store, tiers: tiers}
}

func (l *Limiter) limitsFor(tier string) Limits {
	if lim, ok := l.tiers[tier]; ok {
		return lim
	}
	return Limits{MaxPerHour: 1000, MaxPerDay: 5000, MaxConnections: 2, MaxMessagesPerSec: 5}
}

// CheckAndConsume atomically increments the counter for (identity, kind) and
// reports whether the action is still within budget. Request and daily
// budgets are metered per user id; the message rate is metered per
// connID instead, since two simultaneous connections from the same user
// must not share one message counter — bursting on one connection would
// otherwise trip the limit on the other's unrelated traffic.
func (l *Limiter) CheckAndConsume(ctx context.Context, userID, connID, tier string, kind Kind) (Result, error) {
	limits := l.limitsFor(tier)

	switch kind {
	case RequestHour:
		return l.checkWindow(ctx, hourKey(userID), limits.MaxPerHour, time.Hour, "hourly request budget exceeded")
	case RequestDay:
		return l.checkWindow(ctx, dayKey(userID), limits.MaxPerDay, 24*time.Hour, "daily request budget exceeded")
	case Message:
		return l.checkWindow(ctx, messageKey(connID), limits.MaxMessagesPerSec, time.Second, "message rate exceeded")
	default:
		return Result{Allowed: false, Reason: "unknown budget kind"}, nil
	}
}

func (l *Limiter) checkWindow(ctx context.Context, key string, max int, window time.Duration, reason string) (Result, error) {
	if max <= 0 {
		return Result{Allowed: true}, nil
	}
	count, err := l.store.Incr(ctx, key, window)
	if err != nil {
		return Result{}, kv.Translate(err)
	}
	if count > int64(max) {
		return Result{Allowed: false, Reason: reason}, nil
	}
	return Result{Allowed: true}, nil
}

// AcquireConnection reserves one connection slot for userID, returning
// false if the tier's connection cap is already reached.
func (l *Limiter) AcquireConnection(ctx context.Context, userID, tier string) (bool, error) {
	limits := l.limitsFor(tier)
	if limits.MaxConnections <= 0 {
		return true, nil
	}
	key := connKey(userID)
	count, err := l.store.Incr(ctx, key, 24*time.Hour)
	if err != nil {
		return false, kv.Translate(err)
	}
	if count > int64(limits.MaxConnections) {
		_ = l.ReleaseConnection(ctx, userID)
		return false, nil
	}
	return true, nil
}

// ReleaseConnection frees a previously-acquired connection slot.
func (l *Limiter) ReleaseConnection(ctx context.Context, userID string) error {
	_, err := l.store.Decr(ctx, connKey(userID))
	return err
}

func hourKey(userID string) string    { return fmt.Sprintf("ratelimit:req:hour:%s:%s", userID, time.Now().Format("2006010215")) }
func dayKey(userID string) string     { return fmt.Sprintf("ratelimit:req:day:%s:%s", userID, time.Now().Format("20060102")) }
func messageKey(connID string) string { return fmt.Sprintf("ratelimit:msg:%s:%s", connID, time.Now().Format("20060102150405")) }
func connKey(userID string) string    { return fmt.Sprintf("ratelimit:conn:%s", userID) }
