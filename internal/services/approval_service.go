package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"outreach-dispatch-service/internal/compliance"
	"outreach-dispatch-service/internal/domain"
	"outreach-dispatch-service/internal/observability"
	"outreach-dispatch-service/internal/repository"
	"outreach-dispatch-service/internal/types"
)

// DraftRequest is what an upstream producer (draft generator or inbound
// reply classifier) supplies for a new approval record.
type DraftRequest struct {
	ContactID   string
	Channel     domain.Channel
	Action      domain.ActionKind
	Subject     string
	Body        string
	Destination string
	Notes       string
	Actor       string
}

// DraftPatch carries the editable fields. Nil means unchanged.
type DraftPatch struct {
	Subject     *string
	Body        *string
	Destination *string
}

type ApprovalService interface {
	// Creates a pending approval record after a compliance pre-check.
	CreateDraft(ctx context.Context, req DraftRequest) (*domain.ApprovalRecord, error)
	Approve(ctx context.Context, id, approver string) error
	Reject(ctx context.Context, id, actor, reason string) error
	// Edits a draft; any edit resets the record to pending and clears
	// the approval.
	Edit(ctx context.Context, id, actor string, patch DraftPatch) error
	// Confirms a manual-confirmation channel record was actually sent.
	MarkSentManual(ctx context.Context, id, actor string) error
	Get(ctx context.Context, id string) (*domain.ApprovalRecord, error)
	List(ctx context.Context, status domain.Status, limit int) ([]domain.ApprovalRecord, error)
	// Adds a blocklist entry and logs the administrative action.
	BlockIdentifier(ctx context.Context, identifier, reason string, source domain.ComplianceSource, actor string) error
}

type approvalService struct {
	approvals repository.ApprovalRepository
	complRepo repository.ComplianceRepository
	failed    repository.FailedSendRepository
	events    repository.EventRepository
	gate      *compliance.Gate
	logger    zerolog.Logger
	now       func() time.Time
}

func NewApprovalService(
	approvals repository.ApprovalRepository,
	complRepo repository.ComplianceRepository,
	failed repository.FailedSendRepository,
	events repository.EventRepository,
	gate *compliance.Gate,
	logger zerolog.Logger,
	now func() time.Time,
) ApprovalService {
	if now == nil {
		now = time.Now
	}
	return &approvalService{
		approvals: approvals,
		complRepo: complRepo,
		failed:    failed,
		events:    events,
		gate:      gate,
		logger:    logger,
		now:       now,
	}
}

func (s *approvalService) CreateDraft(ctx context.Context, req DraftRequest) (*domain.ApprovalRecord, error) {
	if !req.Channel.Valid() {
		return nil, fmt.Errorf("%w: unknown channel %q", types.ErrConfiguration, req.Channel)
	}
	if !req.Action.Valid() {
		return nil, fmt.Errorf("%w: unknown action %q", types.ErrConfiguration, req.Action)
	}
	if req.Destination == "" || req.Body == "" {
		return nil, fmt.Errorf("%w: destination and body are required", types.ErrConfiguration)
	}

	// fail closed: an unreadable blocklist must not let drafts through
	if err := s.gate.Reload(ctx); err != nil {
		return nil, err
	}
	if blocked, reason := s.gate.IsBlocked(req.Destination); blocked {
		s.emit(ctx, domain.EventRecord{
			Type:    domain.EventBlockedByCompliance,
			Channel: req.Channel,
			Actor:   req.Actor,
			Metadata: map[string]string{
				"destination": req.Destination,
				"reason":      reason,
				"stage":       "draft",
			},
		})
		observability.RecordComplianceBlock()
		return nil, fmt.Errorf("%w: %s", types.ErrBlockedByCompliance, reason)
	}

	now := s.now()
	record := &domain.ApprovalRecord{
		ID:          uuid.NewString(),
		ContactID:   req.ContactID,
		Channel:     req.Channel,
		Action:      req.Action,
		Subject:     req.Subject,
		Body:        req.Body,
		Destination: req.Destination,
		Status:      domain.StatusPending,
		Notes:       req.Notes,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.approvals.Create(ctx, record); err != nil {
		return nil, fmt.Errorf("create draft: %w", err)
	}

	s.emit(ctx, domain.EventRecord{
		Type:       domain.EventDraftCreated,
		ApprovalID: record.ID,
		Channel:    record.Channel,
		Actor:      req.Actor,
		Metadata:   map[string]string{"destination": record.Destination},
	})
	s.logger.Info().Str("approval_id", record.ID).Str("channel", string(record.Channel)).Msg("draft created")
	return record, nil
}

func (s *approvalService) Approve(ctx context.Context, id, approver string) error {
	if approver == "" {
		return fmt.Errorf("%w: approver identity is required", types.ErrConfiguration)
	}
	now := s.now()
	err := s.approvals.Transition(ctx, id, domain.StatusApproved, now, func(rec *domain.ApprovalRecord) {
		rec.ApprovedBy = approver
		approvedAt := now
		rec.ApprovedAt = &approvedAt
	})
	if err != nil {
		return err
	}
	// re-approving a failed record hands it back to the dispatch cycle;
	// the sweep must not deliver it a second time
	s.dropScheduledRetries(ctx, id)
	s.emit(ctx, domain.EventRecord{
		Type:       domain.EventApproved,
		ApprovalID: id,
		Actor:      approver,
	})
	return nil
}

func (s *approvalService) Reject(ctx context.Context, id, actor, reason string) error {
	err := s.approvals.Transition(ctx, id, domain.StatusRejected, s.now(), func(rec *domain.ApprovalRecord) {
		rec.Notes = appendNote(rec.Notes, "rejected: "+reason)
	})
	if err != nil {
		return err
	}
	s.dropScheduledRetries(ctx, id)
	s.emit(ctx, domain.EventRecord{
		Type:       domain.EventRejected,
		ApprovalID: id,
		Actor:      actor,
		Metadata:   map[string]string{"reason": reason},
	})
	return nil
}

func (s *approvalService) Edit(ctx context.Context, id, actor string, patch DraftPatch) error {
	changed := map[string]string{}
	err := s.approvals.Transition(ctx, id, domain.StatusPending, s.now(), func(rec *domain.ApprovalRecord) {
		if patch.Subject != nil {
			rec.Subject = *patch.Subject
			changed["subject"] = "true"
		}
		if patch.Body != nil {
			rec.Body = *patch.Body
			changed["body"] = "true"
		}
		if patch.Destination != nil {
			rec.Destination = *patch.Destination
			changed["destination"] = "true"
		}
		// editing always resets the approval
		rec.ApprovedBy = ""
		rec.ApprovedAt = nil
		rec.LastError = ""
	})
	if err != nil {
		return err
	}
	s.dropScheduledRetries(ctx, id)
	s.emit(ctx, domain.EventRecord{
		Type:       domain.EventEdited,
		ApprovalID: id,
		Actor:      actor,
		Metadata:   changed,
	})
	return nil
}

func (s *approvalService) MarkSentManual(ctx context.Context, id, actor string) error {
	err := s.approvals.Transition(ctx, id, domain.StatusSentManual, s.now(), nil)
	if err != nil {
		return err
	}
	s.emit(ctx, domain.EventRecord{
		Type:       domain.EventSentManual,
		ApprovalID: id,
		Actor:      actor,
	})
	return nil
}

func (s *approvalService) Get(ctx context.Context, id string) (*domain.ApprovalRecord, error) {
	return s.approvals.GetByID(ctx, id)
}

func (s *approvalService) List(ctx context.Context, status domain.Status, limit int) ([]domain.ApprovalRecord, error) {
	if status == "" {
		return s.approvals.List(ctx, limit)
	}
	return s.approvals.ListByStatus(ctx, status, limit)
}

func (s *approvalService) BlockIdentifier(ctx context.Context, identifier, reason string, source domain.ComplianceSource, actor string) error {
	if identifier == "" {
		return fmt.Errorf("%w: identifier is required", types.ErrConfiguration)
	}
	if !source.Valid() {
		return fmt.Errorf("%w: unknown compliance source %q", types.ErrConfiguration, source)
	}
	entry := s.gate.NewEntry(identifier, reason, source, actor)
	entry.AddedAt = s.now()
	if err := s.complRepo.Add(ctx, entry); err != nil {
		return err
	}
	s.logger.Info().Str("identifier", identifier).Str("source", string(source)).Msg("compliance entry added")
	return s.gate.Reload(ctx)
}

// dropScheduledRetries removes any pending failed-send record for the
// approval. A rejected or edited record must not be resent by the retry
// sweep with its old content, and a re-approved record belongs to the
// dispatch cycle alone.
func (s *approvalService) dropScheduledRetries(ctx context.Context, id string) {
	n, err := s.failed.RemoveByApprovalID(ctx, id)
	if err != nil {
		s.logger.Error().Err(err).Str("approval_id", id).Msg("failed-send cleanup failed")
		return
	}
	if n > 0 {
		s.logger.Info().Str("approval_id", id).Int("count", n).Msg("dropped scheduled retries")
	}
}

func (s *approvalService) emit(ctx context.Context, event domain.EventRecord) {
	event.ID = uuid.NewString()
	event.Timestamp = s.now()
	if err := s.events.Append(ctx, event); err != nil {
		s.logger.Error().Err(err).Str("type", string(event.Type)).Msg("failed to append ledger event")
	}
}

func appendNote(existing, note string) string {
	if existing == "" {
		return note
	}
	return existing + "\n" + note
}
