package compliance

import (
	"context"
	"testing"

	"outreach-dispatch-service/internal/domain"
	"outreach-dispatch-service/internal/repository"
	"outreach-dispatch-service/internal/store"
)

func newTestGate(t *testing.T, stripAliases bool) (*Gate, repository.ComplianceRepository) {
	t.Helper()
	st, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	repo := repository.NewComplianceRepository(st)
	return NewGate(repo, stripAliases), repo
}

func TestGateFailsClosedBeforeFirstLoad(t *testing.T) {
	gate, _ := newTestGate(t, true)

	blocked, reason := gate.IsBlocked("anyone@example.com")
	if !blocked {
		t.Fatal("expected an unloaded gate to block everything")
	}
	if reason == "" {
		t.Error("expected a refusal reason")
	}
}

func TestGateBlocksAfterReload(t *testing.T) {
	gate, repo := newTestGate(t, true)
	ctx := context.Background()

	entry := gate.NewEntry("Blocked@Example.COM", "complaint received", domain.SourceComplaint, "ops")
	if err := repo.Add(ctx, entry); err != nil {
		t.Fatalf("failed to add entry: %v", err)
	}
	if err := gate.Reload(ctx); err != nil {
		t.Fatalf("reload failed: %v", err)
	}

	blocked, reason := gate.IsBlocked("Blocked@example.com")
	if !blocked {
		t.Fatal("expected identifier to be blocked")
	}
	if reason != "complaint received" {
		t.Errorf("unexpected reason %q", reason)
	}

	if blocked, _ := gate.IsBlocked("someone-else@example.com"); blocked {
		t.Error("expected unrelated identifier to pass")
	}
}

func TestNormalizeEmail(t *testing.T) {
	gate, _ := newTestGate(t, true)

	cases := []struct {
		in   string
		want string
	}{
		{"User@Example.COM", "User@example.com"},
		{"user+newsletter@example.com", "user@example.com"},
		{"  user@example.com  ", "user@example.com"},
		// a leading plus is not an alias tag
		{"+tagged@example.com", "+tagged@example.com"},
	}
	for _, tc := range cases {
		if got := gate.Normalize(tc.in); got != tc.want {
			t.Errorf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNormalizeKeepsAliasWhenDisabled(t *testing.T) {
	gate, _ := newTestGate(t, false)

	if got := gate.Normalize("user+tag@Example.com"); got != "user+tag@example.com" {
		t.Errorf("Normalize with alias stripping disabled = %q", got)
	}
}

func TestNormalizePhone(t *testing.T) {
	gate, _ := newTestGate(t, true)

	cases := []struct {
		in   string
		want string
	}{
		{"+1 (555) 123-4567", "+15551234567"},
		{"555.123.4567", "5551234567"},
		{"+15551234567", "+15551234567"},
	}
	for _, tc := range cases {
		if got := gate.Normalize(tc.in); got != tc.want {
			t.Errorf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestAliasVariantMatchesBlockedBase(t *testing.T) {
	gate, repo := newTestGate(t, true)
	ctx := context.Background()

	if err := repo.Add(ctx, gate.NewEntry("user@example.com", "opt out", domain.SourceOptOut, "ops")); err != nil {
		t.Fatalf("failed to add entry: %v", err)
	}
	if err := gate.Reload(ctx); err != nil {
		t.Fatalf("reload failed: %v", err)
	}

	if blocked, _ := gate.IsBlocked("user+drip2@example.com"); !blocked {
		t.Error("expected alias variant of a blocked base address to be blocked")
	}
}

func TestDuplicateNormalizedEntryIsNoOp(t *testing.T) {
	gate, repo := newTestGate(t, true)
	ctx := context.Background()

	if err := repo.Add(ctx, gate.NewEntry("user@example.com", "opt out", domain.SourceOptOut, "ops")); err != nil {
		t.Fatalf("first add failed: %v", err)
	}
	if err := repo.Add(ctx, gate.NewEntry("user+tag@Example.COM", "complaint", domain.SourceComplaint, "ops")); err != nil {
		t.Fatalf("second add failed: %v", err)
	}

	entries, err := repo.ReadAll(ctx)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry after duplicate add, got %d", len(entries))
	}
	if entries[0].Reason != "opt out" {
		t.Errorf("original entry was overwritten: %+v", entries[0])
	}
}
