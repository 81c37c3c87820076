package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"outreach-dispatch-service/config"
	"outreach-dispatch-service/internal/domain"
	"outreach-dispatch-service/internal/types"
)

func (e *testEnv) seedFailedSend(t *testing.T, id, approvalID string, channel domain.Channel, destination string, retryCount int, nextRetryAt time.Time) {
	t.Helper()
	rec := domain.FailedSendRecord{
		ID:            id,
		ApprovalID:    approvalID,
		Channel:       channel,
		Destination:   destination,
		Body:          "hello",
		ErrorCode:     "http_502",
		ErrorMessage:  "bad gateway",
		RetryCount:    retryCount,
		MaxRetries:    3,
		NextRetryAt:   nextRetryAt,
		FirstFailedAt: e.clock.Add(-time.Hour),
	}
	if err := e.failed.Upsert(context.Background(), rec); err != nil {
		t.Fatalf("seed failed send %s: %v", id, err)
	}
}

func TestSweepRetriesDueRecord(t *testing.T) {
	env := newTestEnv(t)
	fake := &fakeAdapter{}
	env.adapters.Register(domain.ChannelEmail, fake)
	env.seedApproval(t, "a1", domain.ChannelEmail, domain.StatusFailed, "lead@example.com")
	env.seedFailedSend(t, "f1", "a1", domain.ChannelEmail, "lead@example.com", 1, env.clock.Add(-time.Minute))

	result, err := env.retryService().RunSweep(context.Background(), 0)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if result.Processed != 1 || result.Succeeded != 1 {
		t.Fatalf("unexpected result %+v", result)
	}
	if len(fake.calls) != 1 {
		t.Fatalf("expected 1 adapter call, got %d", len(fake.calls))
	}
	if got := env.mustGet(t, "a1").Status; got != domain.StatusSent {
		t.Errorf("approval status = %s, want sent", got)
	}
	remaining, err := env.failed.ReadAll(context.Background())
	if err != nil {
		t.Fatalf("read failed sends: %v", err)
	}
	if len(remaining) != 0 {
		t.Errorf("expected the failed-send record to be removed, got %d", len(remaining))
	}
}

func TestSweepIgnoresRecordsNotYetDue(t *testing.T) {
	env := newTestEnv(t)
	fake := &fakeAdapter{}
	env.adapters.Register(domain.ChannelEmail, fake)
	env.seedApproval(t, "a1", domain.ChannelEmail, domain.StatusFailed, "lead@example.com")
	env.seedFailedSend(t, "f1", "a1", domain.ChannelEmail, "lead@example.com", 1, env.clock.Add(10*time.Minute))

	result, err := env.retryService().RunSweep(context.Background(), 0)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if result.Processed != 0 {
		t.Fatalf("expected nothing due, got %+v", result)
	}
	if len(fake.calls) != 0 {
		t.Error("adapter must not be called before the scheduled retry time")
	}
}

func TestSweepReschedulesAfterAnotherFailure(t *testing.T) {
	env := newTestEnv(t)
	fake := &fakeAdapter{err: types.NewAdapterError("http_503", "unavailable")}
	env.adapters.Register(domain.ChannelEmail, fake)
	env.seedApproval(t, "a1", domain.ChannelEmail, domain.StatusFailed, "lead@example.com")
	env.seedFailedSend(t, "f1", "a1", domain.ChannelEmail, "lead@example.com", 1, env.clock.Add(-time.Minute))

	result, err := env.retryService().RunSweep(context.Background(), 0)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if result.Failed != 1 {
		t.Fatalf("unexpected result %+v", result)
	}

	rec, err := env.failed.GetByID(context.Background(), "f1")
	if err != nil {
		t.Fatalf("failed-send record gone: %v", err)
	}
	if rec.RetryCount != 2 {
		t.Errorf("retry count = %d, want 2", rec.RetryCount)
	}
	if rec.ErrorCode != "http_503" {
		t.Errorf("error code = %q", rec.ErrorCode)
	}
	// second failure waits the second backoff step
	if want := env.clock.Add(15 * time.Minute); !rec.NextRetryAt.Equal(want) {
		t.Errorf("next retry at %v, want %v", rec.NextRetryAt, want)
	}
	if got := env.mustGet(t, "a1").Status; got != domain.StatusFailed {
		t.Errorf("approval status = %s, want failed", got)
	}
}

func TestSweepDeadLettersAfterExhaustedRetries(t *testing.T) {
	env := newTestEnv(t)
	fake := &fakeAdapter{err: types.NewAdapterError("http_500", "still broken")}
	env.adapters.Register(domain.ChannelEmail, fake)
	env.seedApproval(t, "a1", domain.ChannelEmail, domain.StatusFailed, "lead@example.com")
	// two failed attempts so far; the next failure exhausts max_retries=3
	env.seedFailedSend(t, "f1", "a1", domain.ChannelEmail, "lead@example.com", 2, env.clock.Add(-time.Minute))

	result, err := env.retryService().RunSweep(context.Background(), 0)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if result.Failed != 1 {
		t.Fatalf("unexpected result %+v", result)
	}

	if got := env.mustGet(t, "a1").Status; got != domain.StatusDeadLetter {
		t.Errorf("approval status = %s, want dead_letter", got)
	}
	remaining, err := env.failed.ReadAll(context.Background())
	if err != nil {
		t.Fatalf("read failed sends: %v", err)
	}
	if len(remaining) != 0 {
		t.Fatalf("expected the failed set to be empty, got %d", len(remaining))
	}
	dead, err := env.dead.ReadAll(context.Background())
	if err != nil {
		t.Fatalf("read dead letters: %v", err)
	}
	if len(dead) != 1 {
		t.Fatalf("expected 1 dead letter, got %d", len(dead))
	}
	if dead[0].RetryCount != 3 || dead[0].FinalError != "still broken" {
		t.Errorf("unexpected dead letter %+v", dead[0])
	}
	if events := env.eventsOf(t, domain.EventDeadLettered); len(events) != 1 {
		t.Errorf("expected 1 dead_lettered event, got %d", len(events))
	}

	// a second sweep finds nothing and changes nothing
	again, err := env.retryService().RunSweep(context.Background(), 0)
	if err != nil {
		t.Fatalf("second sweep failed: %v", err)
	}
	if again.Processed != 0 {
		t.Errorf("second sweep processed %d records", again.Processed)
	}
	if n, _ := env.dead.Count(context.Background()); n != 1 {
		t.Errorf("dead letter count = %d after second sweep", n)
	}
}

func TestSweepReconcilesInterruptedDeadLetterMove(t *testing.T) {
	env := newTestEnv(t)
	fake := &fakeAdapter{}
	env.adapters.Register(domain.ChannelEmail, fake)
	env.seedFailedSend(t, "f1", "a1", domain.ChannelEmail, "lead@example.com", 3, env.clock.Add(-time.Minute))
	// the dead-letter append landed but the crash skipped the removal
	dl := domain.DeadLetterRecord{
		ID:         "f1",
		ApprovalID: "a1",
		Channel:    domain.ChannelEmail,
		FinalError: "still broken",
		RetryCount: 3,
		MovedAt:    env.clock.Add(-time.Minute),
	}
	if err := env.dead.Append(context.Background(), dl); err != nil {
		t.Fatalf("seed dead letter: %v", err)
	}

	result, err := env.retryService().RunSweep(context.Background(), 0)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if result.Processed != 0 {
		t.Fatalf("reconciled record must not be retried, got %+v", result)
	}
	if len(fake.calls) != 0 {
		t.Error("adapter must not be called for a dead-lettered record")
	}
	remaining, err := env.failed.ReadAll(context.Background())
	if err != nil {
		t.Fatalf("read failed sends: %v", err)
	}
	if len(remaining) != 0 {
		t.Errorf("expected the duplicate failed-send record to be removed, got %d", len(remaining))
	}
	if n, _ := env.dead.Count(context.Background()); n != 1 {
		t.Errorf("dead letter count = %d", n)
	}
}

func TestSweepSkipsReapprovedRecord(t *testing.T) {
	env := newTestEnv(t)
	fake := &fakeAdapter{}
	env.adapters.Register(domain.ChannelEmail, fake)
	// the approve flow crashed after the status flip, before it removed
	// the scheduled retry
	env.seedApproval(t, "a1", domain.ChannelEmail, domain.StatusApproved, "lead@example.com")
	env.seedFailedSend(t, "f1", "a1", domain.ChannelEmail, "lead@example.com", 1, env.clock.Add(-time.Minute))

	result, err := env.retryService().RunSweep(context.Background(), 0)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if result.Succeeded != 0 {
		t.Fatalf("unexpected result %+v", result)
	}
	if len(fake.calls) != 0 {
		t.Fatal("the sweep must not deliver a record that is no longer failed")
	}
	remaining, err := env.failed.ReadAll(context.Background())
	if err != nil {
		t.Fatalf("read failed sends: %v", err)
	}
	if len(remaining) != 0 {
		t.Errorf("expected the stale failed-send record to be removed, got %d", len(remaining))
	}
	if got := env.mustGet(t, "a1").Status; got != domain.StatusApproved {
		t.Errorf("approval status = %s, want approved", got)
	}
}

func TestReapprovedFailureIsDeliveredOnce(t *testing.T) {
	env := newTestEnv(t)
	fake := &fakeAdapter{}
	env.adapters.Register(domain.ChannelEmail, fake)
	env.seedApproval(t, "a1", domain.ChannelEmail, domain.StatusFailed, "lead@example.com")
	env.seedFailedSend(t, "f1", "a1", domain.ChannelEmail, "lead@example.com", 1, env.clock.Add(-time.Minute))

	// a human re-queues the failed record by approving it again
	if err := env.approvalService().Approve(context.Background(), "a1", "reviewer"); err != nil {
		t.Fatalf("re-approve failed: %v", err)
	}

	if _, err := env.dispatchService().RunCycle(context.Background(), 0); err != nil {
		t.Fatalf("cycle failed: %v", err)
	}
	if _, err := env.retryService().RunSweep(context.Background(), 0); err != nil {
		t.Fatalf("sweep failed: %v", err)
	}

	if len(fake.calls) != 1 {
		t.Fatalf("expected exactly 1 delivery for the re-approved record, got %d", len(fake.calls))
	}
	if got := env.mustGet(t, "a1").Status; got != domain.StatusSent {
		t.Errorf("approval status = %s, want sent", got)
	}
	if events := env.eventsOf(t, domain.EventSent); len(events) != 1 {
		t.Errorf("expected 1 sent event, got %d", len(events))
	}
}

func TestSweepDeadLettersUnconfiguredChannel(t *testing.T) {
	env := newTestEnv(t)
	fake := &fakeAdapter{}
	env.adapters.Register(domain.ChannelChatB, fake)
	env.seedApproval(t, "a1", domain.ChannelChatB, domain.StatusFailed, "handle-9")
	env.seedFailedSend(t, "f1", "a1", domain.ChannelChatB, "handle-9", 1, env.clock.Add(-time.Minute))

	result, err := env.retryService().RunSweep(context.Background(), 0)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if result.Failed != 1 {
		t.Fatalf("unexpected result %+v", result)
	}
	if len(fake.calls) != 0 {
		t.Fatal("adapter must not be called for an unconfigured channel")
	}
	if got := env.mustGet(t, "a1").Status; got != domain.StatusDeadLetter {
		t.Errorf("approval status = %s, want dead_letter", got)
	}
	dead, err := env.dead.ReadAll(context.Background())
	if err != nil {
		t.Fatalf("read dead letters: %v", err)
	}
	if len(dead) != 1 || !strings.Contains(dead[0].FinalError, "no rate configuration") {
		t.Errorf("unexpected dead letters %+v", dead)
	}
}

func TestSweepDropsNewlyBlockedDestination(t *testing.T) {
	env := newTestEnv(t)
	fake := &fakeAdapter{}
	env.adapters.Register(domain.ChannelEmail, fake)
	env.seedApproval(t, "a1", domain.ChannelEmail, domain.StatusFailed, "lead@example.com")
	env.seedFailedSend(t, "f1", "a1", domain.ChannelEmail, "lead@example.com", 1, env.clock.Add(-time.Minute))
	env.block(t, "lead@example.com")

	result, err := env.retryService().RunSweep(context.Background(), 0)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if result.Failed != 1 {
		t.Fatalf("unexpected result %+v", result)
	}
	if len(fake.calls) != 0 {
		t.Fatal("adapter must never be called for a blocked destination")
	}
	if got := env.mustGet(t, "a1").Status; got != domain.StatusRejected {
		t.Errorf("approval status = %s, want rejected", got)
	}
	remaining, err := env.failed.ReadAll(context.Background())
	if err != nil {
		t.Fatalf("read failed sends: %v", err)
	}
	if len(remaining) != 0 {
		t.Errorf("expected the blocked failed-send record to be removed, got %d", len(remaining))
	}
}

func TestSweepDefersWhenRateLimited(t *testing.T) {
	env := newTestEnv(t)
	env.setChannelLimit("email", config.ChannelConfig{PerHour: 1, PerDay: 1000, DryRun: true})
	fake := &fakeAdapter{}
	env.adapters.Register(domain.ChannelEmail, fake)
	env.seedApproval(t, "a1", domain.ChannelEmail, domain.StatusFailed, "lead@example.com")
	env.seedFailedSend(t, "f1", "a1", domain.ChannelEmail, "lead@example.com", 1, env.clock.Add(-time.Minute))

	// saturate the hourly window
	if err := env.limiter.RecordSend(context.Background(), domain.ChannelEmail, "other"); err != nil {
		t.Fatalf("record send: %v", err)
	}

	result, err := env.retryService().RunSweep(context.Background(), 0)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if result.Deferred != 1 {
		t.Fatalf("unexpected result %+v", result)
	}
	if len(fake.calls) != 0 {
		t.Error("adapter must not be called past the rate ceiling")
	}
	// back-pressure is not a failed attempt
	rec, err := env.failed.GetByID(context.Background(), "f1")
	if err != nil {
		t.Fatalf("failed-send record gone: %v", err)
	}
	if rec.RetryCount != 1 {
		t.Errorf("retry count = %d, want 1 (unchanged)", rec.RetryCount)
	}
}
