package domain

import "time"

type EventType string

const (
	EventDraftCreated        EventType = "draft_created"
	EventApproved            EventType = "approved"
	EventRejected            EventType = "rejected"
	EventEdited              EventType = "edited"
	EventSent                EventType = "sent"
	EventApprovedOpened      EventType = "approved_opened"
	EventSentManual          EventType = "sent_manual"
	EventFailed              EventType = "failed"
	EventRetried             EventType = "retried"
	EventDeadLettered        EventType = "dead_lettered"
	EventBlockedByCompliance EventType = "blocked_by_compliance"
	EventRateLimited         EventType = "rate_limited"
)

// EventRecord is one append-only audit ledger entry. Entries are never
// mutated or deleted; the ledger is the sole source of truth for analytics
// and compliance audits.
type EventRecord struct {
	ID         string            `json:"id"`
	Timestamp  time.Time         `json:"timestamp"`
	Type       EventType         `json:"type"`
	ApprovalID string            `json:"approval_id,omitempty"`
	Channel    Channel           `json:"channel,omitempty"`
	Actor      string            `json:"actor,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}
