// Package ratelimit enforces per-channel throughput ceilings. Admission is
// a pure function of (channel config, now, send-window log): counts are
// recomputed from the append-only log on every decision instead of kept in
// a mutable counter, so the limiter is self-correcting after crashes.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"outreach-dispatch-service/config"
	"outreach-dispatch-service/internal/domain"
	"outreach-dispatch-service/internal/repository"
)

type Limiter struct {
	repo   repository.SendWindowRepository
	limits map[domain.Channel]config.ChannelConfig
	now    func() time.Time
}

func NewLimiter(repo repository.SendWindowRepository, limits map[domain.Channel]config.ChannelConfig, now func() time.Time) *Limiter {
	if now == nil {
		now = time.Now
	}
	return &Limiter{repo: repo, limits: limits, now: now}
}

// CanSend reports whether a send on the channel is admitted right now. All
// configured constraints must pass: the hourly ceiling, the daily ceiling
// and the minimum delay since the channel's last send. A channel without
// configuration is denied, never treated as unlimited.
func (l *Limiter) CanSend(ctx context.Context, channel domain.Channel) (bool, string, error) {
	limit, ok := l.limits[channel]
	if !ok {
		return false, fmt.Sprintf("channel %s has no rate configuration", channel), nil
	}

	entries, err := l.repo.EntriesFor(ctx, channel)
	if err != nil {
		return false, "", fmt.Errorf("read send window for %s: %w", channel, err)
	}

	now := l.now()
	var hourCount, dayCount int
	var lastSent time.Time
	for _, e := range entries {
		age := now.Sub(e.SentAt)
		if age < time.Hour {
			hourCount++
		}
		if age < 24*time.Hour {
			dayCount++
		}
		if e.SentAt.After(lastSent) {
			lastSent = e.SentAt
		}
	}

	if hourCount >= limit.PerHour {
		return false, fmt.Sprintf("hourly limit reached (%d/%d)", hourCount, limit.PerHour), nil
	}
	if dayCount >= limit.PerDay {
		return false, fmt.Sprintf("daily limit reached (%d/%d)", dayCount, limit.PerDay), nil
	}
	if !lastSent.IsZero() && now.Sub(lastSent) < limit.MinDelay() {
		return false, fmt.Sprintf("minimum delay of %s since last send not elapsed", limit.MinDelay()), nil
	}
	return true, "", nil
}

// RecordSend appends one send-window entry. Callers must only invoke it
// after a confirmed successful dispatch.
func (l *Limiter) RecordSend(ctx context.Context, channel domain.Channel, approvalID string) error {
	return l.repo.Append(ctx, domain.SendWindowEntry{
		Channel:    channel,
		ApprovalID: approvalID,
		SentAt:     l.now(),
	})
}
