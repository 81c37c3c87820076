package domain

import "time"

// SendWindowEntry records one confirmed dispatch on a channel. The window
// log is append-only; rate decisions are recomputed from it every time
// instead of from a mutable counter, so the limiter self-corrects after
// crashes.
type SendWindowEntry struct {
	Channel    Channel   `json:"channel"`
	ApprovalID string    `json:"approval_id"`
	SentAt     time.Time `json:"sent_at"`
}

// FailedSendRecord is a send attempt that did not succeed and is scheduled
// for retry. RetryCount counts failed attempts, so it starts at 1.
type FailedSendRecord struct {
	ID            string    `json:"id"`
	ApprovalID    string    `json:"approval_id"`
	Channel       Channel   `json:"channel"`
	Destination   string    `json:"destination"`
	Subject       string    `json:"subject,omitempty"`
	Body          string    `json:"body"`
	ErrorCode     string    `json:"error_code"`
	ErrorMessage  string    `json:"error_message"`
	RetryCount    int       `json:"retry_count"`
	MaxRetries    int       `json:"max_retries"`
	NextRetryAt   time.Time `json:"next_retry_at"`
	FirstFailedAt time.Time `json:"first_failed_at"`
}

// DeadLetterRecord is a permanently failed send, moved out of the failed
// set once the retry budget is exhausted. It requires manual review.
type DeadLetterRecord struct {
	ID            string    `json:"id"`
	ApprovalID    string    `json:"approval_id"`
	Channel       Channel   `json:"channel"`
	Destination   string    `json:"destination"`
	Subject       string    `json:"subject,omitempty"`
	Body          string    `json:"body"`
	FinalError    string    `json:"final_error"`
	RetryCount    int       `json:"retry_count"`
	FirstFailedAt time.Time `json:"first_failed_at"`
	MovedAt       time.Time `json:"moved_at"`
}
