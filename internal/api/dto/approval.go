package dto

import "time"

type CreateDraftRequest struct {
	ContactID   string `json:"contactId"`
	Channel     string `json:"channel" binding:"required"`
	Action      string `json:"action" binding:"required"`
	Subject     string `json:"subject"`
	Body        string `json:"body" binding:"required"`
	Destination string `json:"destination" binding:"required"`
	Notes       string `json:"notes"`
	Actor       string `json:"actor" binding:"required"`
}

type ApproveRequest struct {
	Approver string `json:"approver" binding:"required"`
}

type RejectRequest struct {
	Actor  string `json:"actor" binding:"required"`
	Reason string `json:"reason" binding:"required"`
}

type EditRequest struct {
	Actor       string  `json:"actor" binding:"required"`
	Subject     *string `json:"subject"`
	Body        *string `json:"body"`
	Destination *string `json:"destination"`
}

type MarkSentManualRequest struct {
	Actor string `json:"actor" binding:"required"`
}

type BlockIdentifierRequest struct {
	Identifier string `json:"identifier" binding:"required"`
	Reason     string `json:"reason" binding:"required"`
	Source     string `json:"source" binding:"required"`
	Actor      string `json:"actor" binding:"required"`
}

type ApprovalResponse struct {
	ID          string     `json:"id"`
	ContactID   string     `json:"contactId"`
	Channel     string     `json:"channel"`
	Action      string     `json:"action"`
	Subject     string     `json:"subject,omitempty"`
	Body        string     `json:"body"`
	Destination string     `json:"destination"`
	Status      string     `json:"status"`
	ApprovedBy  string     `json:"approvedBy,omitempty"`
	ApprovedAt  *time.Time `json:"approvedAt,omitempty"`
	Notes       string     `json:"notes,omitempty"`
	LastError   string     `json:"lastError,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

type ApprovalsResponse struct {
	Approvals []ApprovalResponse `json:"approvals"`
	Total     int                `json:"total"`
}

type CycleResponse struct {
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Deferred  int `json:"deferred"`
	Failed    int `json:"failed"`
}

type JobResponse struct {
	Job    string `json:"job"`
	Status string `json:"status"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
