package ratelimit

import (
	"context"
	"strings"
	"testing"
	"time"

	"outreach-dispatch-service/config"
	"outreach-dispatch-service/internal/domain"
	"outreach-dispatch-service/internal/repository"
	"outreach-dispatch-service/internal/store"
)

func newTestLimiter(t *testing.T, limits map[domain.Channel]config.ChannelConfig, now time.Time) (*Limiter, repository.SendWindowRepository) {
	t.Helper()
	st, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	repo := repository.NewSendWindowRepository(st)
	return NewLimiter(repo, limits, func() time.Time { return now }), repo
}

func TestUnconfiguredChannelIsDenied(t *testing.T) {
	limiter, _ := newTestLimiter(t, map[domain.Channel]config.ChannelConfig{}, time.Now())

	admitted, reason, err := limiter.CanSend(context.Background(), domain.ChannelEmail)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if admitted {
		t.Fatal("expected an unconfigured channel to be denied")
	}
	if !strings.Contains(reason, "no rate configuration") {
		t.Errorf("unexpected reason %q", reason)
	}
}

func TestHourlyCeiling(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	limits := map[domain.Channel]config.ChannelConfig{
		domain.ChannelEmail: {PerHour: 2, PerDay: 100},
	}
	limiter, repo := newTestLimiter(t, limits, now)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		entry := domain.SendWindowEntry{
			Channel:    domain.ChannelEmail,
			ApprovalID: "a",
			SentAt:     now.Add(-time.Duration(i+1) * 10 * time.Minute),
		}
		if err := repo.Append(ctx, entry); err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}

	admitted, reason, err := limiter.CanSend(ctx, domain.ChannelEmail)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if admitted {
		t.Fatal("expected the hourly ceiling to deny the send")
	}
	if !strings.Contains(reason, "hourly limit") {
		t.Errorf("unexpected reason %q", reason)
	}
}

func TestHourlyWindowSlides(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	limits := map[domain.Channel]config.ChannelConfig{
		domain.ChannelEmail: {PerHour: 1, PerDay: 100},
	}
	limiter, repo := newTestLimiter(t, limits, now)
	ctx := context.Background()

	// a send 61 minutes ago is outside the hourly window
	entry := domain.SendWindowEntry{Channel: domain.ChannelEmail, ApprovalID: "a", SentAt: now.Add(-61 * time.Minute)}
	if err := repo.Append(ctx, entry); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	admitted, _, err := limiter.CanSend(ctx, domain.ChannelEmail)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !admitted {
		t.Fatal("expected a send outside the hourly window to be admitted")
	}
}

func TestDailyCeiling(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	limits := map[domain.Channel]config.ChannelConfig{
		domain.ChannelChatA: {PerHour: 100, PerDay: 3},
	}
	limiter, repo := newTestLimiter(t, limits, now)
	ctx := context.Background()

	// three sends spread over the day, none within the last hour
	for i := 0; i < 3; i++ {
		entry := domain.SendWindowEntry{
			Channel:    domain.ChannelChatA,
			ApprovalID: "a",
			SentAt:     now.Add(-time.Duration(i+2) * time.Hour),
		}
		if err := repo.Append(ctx, entry); err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}

	admitted, reason, err := limiter.CanSend(ctx, domain.ChannelChatA)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if admitted {
		t.Fatal("expected the daily ceiling to deny the send")
	}
	if !strings.Contains(reason, "daily limit") {
		t.Errorf("unexpected reason %q", reason)
	}
}

func TestMinDelay(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	limits := map[domain.Channel]config.ChannelConfig{
		domain.ChannelEmail: {PerHour: 10, PerDay: 100, MinDelaySeconds: 120},
	}
	limiter, repo := newTestLimiter(t, limits, now)
	ctx := context.Background()

	entry := domain.SendWindowEntry{Channel: domain.ChannelEmail, ApprovalID: "a", SentAt: now.Add(-90 * time.Second)}
	if err := repo.Append(ctx, entry); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	admitted, reason, err := limiter.CanSend(ctx, domain.ChannelEmail)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if admitted {
		t.Fatal("expected the minimum delay to deny the send")
	}
	if !strings.Contains(reason, "minimum delay") {
		t.Errorf("unexpected reason %q", reason)
	}
}

func TestChannelsAreIndependent(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	limits := map[domain.Channel]config.ChannelConfig{
		domain.ChannelEmail: {PerHour: 1, PerDay: 10},
		domain.ChannelChatA: {PerHour: 1, PerDay: 10},
	}
	limiter, repo := newTestLimiter(t, limits, now)
	ctx := context.Background()

	entry := domain.SendWindowEntry{Channel: domain.ChannelEmail, ApprovalID: "a", SentAt: now.Add(-5 * time.Minute)}
	if err := repo.Append(ctx, entry); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	if admitted, _, _ := limiter.CanSend(ctx, domain.ChannelEmail); admitted {
		t.Error("expected email to be at its ceiling")
	}
	if admitted, _, _ := limiter.CanSend(ctx, domain.ChannelChatA); !admitted {
		t.Error("expected chat-a to be unaffected by email sends")
	}
}

func TestRecordSendCountsTowardCeiling(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	limits := map[domain.Channel]config.ChannelConfig{
		domain.ChannelEmail: {PerHour: 1, PerDay: 10},
	}
	limiter, _ := newTestLimiter(t, limits, now)
	ctx := context.Background()

	if admitted, _, _ := limiter.CanSend(ctx, domain.ChannelEmail); !admitted {
		t.Fatal("expected a fresh channel to be admitted")
	}
	if err := limiter.RecordSend(ctx, domain.ChannelEmail, "a"); err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if admitted, _, _ := limiter.CanSend(ctx, domain.ChannelEmail); admitted {
		t.Error("expected the recorded send to count against the ceiling")
	}
}
