package domain

import "time"

// ComplianceSource indicates where a block signal originated.
type ComplianceSource string

const (
	SourceManual    ComplianceSource = "manual"
	SourceComplaint ComplianceSource = "complaint"
	SourceLegal     ComplianceSource = "legal"
	SourceOptOut    ComplianceSource = "opt_out"
	SourceBounce    ComplianceSource = "bounce"
)

func (s ComplianceSource) Valid() bool {
	switch s {
	case SourceManual, SourceComplaint, SourceLegal, SourceOptOut, SourceBounce:
		return true
	}
	return false
}

// ComplianceEntry is a blocked recipient identifier (email, phone or other
// handle). Entries are immutable once written; removal is a separate,
// explicitly logged administrative action, never a silent delete.
type ComplianceEntry struct {
	Identifier string           `json:"identifier"`
	Normalized string           `json:"normalized"`
	Reason     string           `json:"reason"`
	Source     ComplianceSource `json:"source"`
	AddedBy    string           `json:"added_by"`
	AddedAt    time.Time        `json:"added_at"`
}
