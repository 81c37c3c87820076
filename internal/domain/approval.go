package domain

import "time"

type Status string

const (
	StatusPending        Status = "pending"
	StatusApproved       Status = "approved"
	StatusSending        Status = "sending" // claimed by a dispatch pass
	StatusSent           Status = "sent"
	StatusApprovedOpened Status = "approved_opened"
	StatusSentManual     Status = "sent_manual"
	StatusRejected       Status = "rejected"
	StatusFailed         Status = "failed"
	StatusDeadLetter     Status = "dead_letter"
)

// Terminal reports whether no further dispatch activity is expected.
func (s Status) Terminal() bool {
	switch s {
	case StatusSent, StatusSentManual, StatusRejected, StatusDeadLetter:
		return true
	}
	return false
}

// CanTransition encodes the approval state machine. The sending state is an
// internal claim taken by a dispatch pass so that two concurrent passes can
// never both invoke a channel adapter for the same record.
func CanTransition(from, to Status) bool {
	switch to {
	case StatusPending:
		// editing a draft always resets approval
		return from == StatusPending || from == StatusApproved || from == StatusFailed
	case StatusApproved:
		// never from sending: un-claiming an in-flight record would let
		// the next cycle deliver it again
		return from == StatusPending || from == StatusFailed
	case StatusSending:
		return from == StatusApproved
	case StatusSent:
		// sending→sent on dispatch success, failed→sent on retry success
		return from == StatusSending || from == StatusFailed
	case StatusApprovedOpened:
		// sending→approved_opened on dispatch, failed→approved_opened on
		// retry, for manual-confirmation channels
		return from == StatusSending || from == StatusFailed
	case StatusSentManual:
		return from == StatusApprovedOpened
	case StatusRejected:
		// any non-sent state may be rejected by explicit human action
		return from != StatusSent && from != StatusSentManual && from != StatusRejected
	case StatusFailed:
		return from == StatusSending
	case StatusDeadLetter:
		return from == StatusFailed
	}
	return false
}

// ApprovalRecord is one outbound communication candidate and its lifecycle.
// Records are archived once terminal, never deleted.
type ApprovalRecord struct {
	ID          string     `json:"id"`
	ContactID   string     `json:"contact_id"`
	Channel     Channel    `json:"channel"`
	Action      ActionKind `json:"action"`
	Subject     string     `json:"subject,omitempty"`
	Body        string     `json:"body"`
	Destination string     `json:"destination"`
	Status      Status     `json:"status"`
	ApprovedBy  string     `json:"approved_by,omitempty"`
	ApprovedAt  *time.Time `json:"approved_at,omitempty"`
	Notes       string     `json:"notes,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}
