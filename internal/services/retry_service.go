package services

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"outreach-dispatch-service/config"
	"outreach-dispatch-service/internal/adapter"
	"outreach-dispatch-service/internal/compliance"
	"outreach-dispatch-service/internal/domain"
	"outreach-dispatch-service/internal/observability"
	"outreach-dispatch-service/internal/ratelimit"
	"outreach-dispatch-service/internal/repository"
	"outreach-dispatch-service/internal/types"
)

// RetryService absorbs transient send failures. A sweep selects failed-send
// records whose retry is due, re-attempts them, and promotes records that
// exhausted their retry budget to the dead-letter collection.
type RetryService interface {
	RunSweep(ctx context.Context, maxItems int) (CycleResult, error)
}

type retryService struct {
	mu        *sync.Mutex // shared with the dispatch service
	approvals repository.ApprovalRepository
	failed    repository.FailedSendRepository
	dead      repository.DeadLetterRepository
	events    repository.EventRepository
	gate      *compliance.Gate
	limiter   *ratelimit.Limiter
	adapters  *adapter.Registry
	cfg       config.DispatchConfig
	logger    zerolog.Logger
	now       func() time.Time
}

func NewRetryService(
	sendMu *sync.Mutex,
	approvals repository.ApprovalRepository,
	failed repository.FailedSendRepository,
	dead repository.DeadLetterRepository,
	events repository.EventRepository,
	gate *compliance.Gate,
	limiter *ratelimit.Limiter,
	adapters *adapter.Registry,
	cfg config.DispatchConfig,
	logger zerolog.Logger,
	now func() time.Time,
) RetryService {
	if now == nil {
		now = time.Now
	}
	if sendMu == nil {
		sendMu = &sync.Mutex{}
	}
	return &retryService{
		mu:        sendMu,
		approvals: approvals,
		failed:    failed,
		dead:      dead,
		events:    events,
		gate:      gate,
		limiter:   limiter,
		adapters:  adapters,
		cfg:       cfg,
		logger:    logger,
		now:       now,
	}
}

func (s *retryService) RunSweep(ctx context.Context, maxItems int) (CycleResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result CycleResult

	if err := s.gate.Reload(ctx); err != nil {
		s.logger.Error().Err(err).Msg("retry sweep aborted: compliance blocklist unavailable")
		return result, err
	}
	if err := s.reconcile(ctx); err != nil {
		return result, err
	}

	if maxItems <= 0 {
		maxItems = s.cfg.RetryBatchSize
	}
	due, err := s.failed.Due(ctx, s.now(), maxItems)
	if err != nil {
		return result, err
	}

	for i := range due {
		if ctx.Err() != nil {
			break
		}
		result.Processed++
		switch s.retryRecord(ctx, &due[i]) {
		case outcomeSent:
			result.Succeeded++
		case outcomeDeferred:
			result.Deferred++
		default:
			result.Failed++
		}
	}

	s.updateGauges(ctx)
	s.logger.Info().
		Int("processed", result.Processed).
		Int("succeeded", result.Succeeded).
		Int("deferred", result.Deferred).
		Int("failed", result.Failed).
		Msg("retry sweep complete")
	return result, nil
}

// reconcile drops any failed-send record whose approval already lives in
// the dead-letter collection. The failed→dead-letter move is two writes
// (append there, remove here); a crash in between leaves a duplicate that
// this pass cleans up, keeping the record in exactly one of the two sets.
func (s *retryService) reconcile(ctx context.Context) error {
	failed, err := s.failed.ReadAll(ctx)
	if err != nil {
		return err
	}
	for i := range failed {
		inDead, err := s.dead.ContainsApproval(ctx, failed[i].ApprovalID)
		if err != nil {
			return err
		}
		if inDead {
			s.logger.Warn().Str("approval_id", failed[i].ApprovalID).Msg("reconciled duplicate failed-send record")
			if err := s.failed.Remove(ctx, failed[i].ID); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *retryService) retryRecord(ctx context.Context, rec *domain.FailedSendRecord) outcome {
	// the approval may have moved on since the failure was recorded: a
	// re-approved record is the dispatch cycle's to deliver, anything
	// else was resolved out of band
	appr, err := s.approvals.GetByID(ctx, rec.ApprovalID)
	if err != nil {
		s.logger.Error().Err(err).Str("approval_id", rec.ApprovalID).Msg("approval lookup failed")
		return outcomeDeferred
	}
	if appr.Status != domain.StatusFailed {
		return s.dropStale(ctx, rec, appr.Status)
	}

	// the blocklist may have grown since the original attempt
	if blocked, reason := s.gate.IsBlocked(rec.Destination); blocked {
		return s.dropBlocked(ctx, rec, reason)
	}

	a, ok := s.adapters.Get(rec.Channel)
	if !ok {
		// a channel that lost its adapter cannot recover by retrying
		return s.deadLetter(ctx, rec, "no adapter configured for channel "+string(rec.Channel))
	}
	chCfg, ok := s.cfg.ChannelLimits()[rec.Channel]
	if !ok {
		return s.deadLetter(ctx, rec, "no rate configuration for channel "+string(rec.Channel))
	}

	admitted, _, err := s.limiter.CanSend(ctx, rec.Channel)
	if err != nil {
		s.logger.Error().Err(err).Str("approval_id", rec.ApprovalID).Msg("rate limiter unavailable")
		return outcomeDeferred
	}
	if !admitted {
		// back-pressure, not a failed attempt: the record stays scheduled
		observability.RecordRateLimited(string(rec.Channel))
		return outcomeDeferred
	}

	sendCtx, cancel := context.WithTimeout(ctx, chCfg.Timeout())
	err = a.Send(sendCtx, adapter.Outbound{
		ApprovalID:  rec.ApprovalID,
		Destination: rec.Destination,
		Subject:     rec.Subject,
		Body:        rec.Body,
	})
	cancel()

	if err != nil {
		return s.recordFailedRetry(ctx, rec, err)
	}
	return s.resolve(ctx, rec)
}

func (s *retryService) resolve(ctx context.Context, rec *domain.FailedSendRecord) outcome {
	observability.RecordRetryAttempt("success")
	s.emit(ctx, domain.EventRecord{
		Type:       domain.EventRetried,
		ApprovalID: rec.ApprovalID,
		Channel:    rec.Channel,
		Metadata:   map[string]string{"attempt": strconv.Itoa(rec.RetryCount + 1), "outcome": "success"},
	})

	target := domain.StatusSent
	eventType := domain.EventSent
	if rec.Channel.ManualConfirmation() {
		target = domain.StatusApprovedOpened
		eventType = domain.EventApprovedOpened
	}
	if err := s.approvals.Transition(ctx, rec.ApprovalID, target, s.now(), func(r *domain.ApprovalRecord) {
		r.LastError = ""
	}); err != nil {
		s.logger.Error().Err(err).Str("approval_id", rec.ApprovalID).Msg("retry completion transition failed")
	}
	if err := s.limiter.RecordSend(ctx, rec.Channel, rec.ApprovalID); err != nil {
		s.logger.Error().Err(err).Str("approval_id", rec.ApprovalID).Msg("send window append failed")
	}
	if err := s.failed.Remove(ctx, rec.ID); err != nil {
		s.logger.Error().Err(err).Str("approval_id", rec.ApprovalID).Msg("failed-send record removal failed")
	}

	observability.RecordSend(string(rec.Channel))
	s.emit(ctx, domain.EventRecord{
		Type:       eventType,
		ApprovalID: rec.ApprovalID,
		Channel:    rec.Channel,
		Metadata:   map[string]string{"destination": rec.Destination, "via": "retry"},
	})
	s.logger.Info().Str("approval_id", rec.ApprovalID).Int("attempt", rec.RetryCount+1).Msg("retry succeeded")
	return outcomeSent
}

func (s *retryService) recordFailedRetry(ctx context.Context, rec *domain.FailedSendRecord, sendErr error) outcome {
	code, message := "adapter_error", sendErr.Error()
	if ae, ok := types.AsAdapterError(sendErr); ok {
		code, message = ae.Code, ae.Message
	}

	retryCount := rec.RetryCount + 1
	if retryCount >= rec.MaxRetries {
		observability.RecordRetryAttempt("exhausted")
		return s.deadLetter(ctx, rec, message)
	}

	observability.RecordRetryAttempt("failed")
	next := s.now().Add(backoffFor(s.cfg.BackoffSchedule(), retryCount))
	if err := s.failed.Reschedule(ctx, rec.ID, retryCount, next, code, message); err != nil {
		s.logger.Error().Err(err).Str("approval_id", rec.ApprovalID).Msg("reschedule failed")
	}
	s.emit(ctx, domain.EventRecord{
		Type:       domain.EventRetried,
		ApprovalID: rec.ApprovalID,
		Channel:    rec.Channel,
		Metadata: map[string]string{
			"attempt":       strconv.Itoa(retryCount),
			"outcome":       "failure",
			"error_code":    code,
			"next_retry_at": next.UTC().Format(time.RFC3339),
		},
	})
	s.logger.Warn().
		Str("approval_id", rec.ApprovalID).
		Int("retry_count", retryCount).
		Str("error_code", code).
		Msg("retry attempt failed")
	return outcomeFailed
}

// deadLetter moves a record out of the failed set permanently. Append to
// the dead-letter collection first; reconcile covers a crash before the
// removal below.
func (s *retryService) deadLetter(ctx context.Context, rec *domain.FailedSendRecord, finalError string) outcome {
	now := s.now()
	dl := domain.DeadLetterRecord{
		ID:            rec.ID,
		ApprovalID:    rec.ApprovalID,
		Channel:       rec.Channel,
		Destination:   rec.Destination,
		Subject:       rec.Subject,
		Body:          rec.Body,
		FinalError:    finalError,
		RetryCount:    rec.RetryCount + 1,
		FirstFailedAt: rec.FirstFailedAt,
		MovedAt:       now,
	}
	if err := s.dead.Append(ctx, dl); err != nil {
		s.logger.Error().Err(err).Str("approval_id", rec.ApprovalID).Msg("dead-letter append failed")
		return outcomeFailed
	}
	if err := s.failed.Remove(ctx, rec.ID); err != nil {
		s.logger.Error().Err(err).Str("approval_id", rec.ApprovalID).Msg("failed-send removal after dead-letter failed")
	}
	if err := s.approvals.Transition(ctx, rec.ApprovalID, domain.StatusDeadLetter, now, func(r *domain.ApprovalRecord) {
		r.LastError = finalError
	}); err != nil {
		s.logger.Error().Err(err).Str("approval_id", rec.ApprovalID).Msg("dead-letter transition failed")
	}

	s.emit(ctx, domain.EventRecord{
		Type:       domain.EventDeadLettered,
		ApprovalID: rec.ApprovalID,
		Channel:    rec.Channel,
		Metadata:   map[string]string{"final_error": finalError, "retry_count": strconv.Itoa(dl.RetryCount)},
	})
	s.logger.Error().
		Str("approval_id", rec.ApprovalID).
		Str("channel", string(rec.Channel)).
		Msg("record dead-lettered, manual review required")
	return outcomeFailed
}

// dropStale discards a scheduled retry whose approval is no longer failed.
// Approve, Reject and Edit remove the record themselves; this covers a
// crash between the status flip and that removal.
func (s *retryService) dropStale(ctx context.Context, rec *domain.FailedSendRecord, status domain.Status) outcome {
	if err := s.failed.Remove(ctx, rec.ID); err != nil {
		s.logger.Error().Err(err).Str("approval_id", rec.ApprovalID).Msg("stale failed-send removal failed")
		return outcomeDeferred
	}
	s.logger.Warn().
		Str("approval_id", rec.ApprovalID).
		Str("status", string(status)).
		Msg("dropped stale failed-send record")
	return outcomeFailed
}

func (s *retryService) dropBlocked(ctx context.Context, rec *domain.FailedSendRecord, reason string) outcome {
	observability.RecordComplianceBlock()
	if err := s.failed.Remove(ctx, rec.ID); err != nil {
		s.logger.Error().Err(err).Str("approval_id", rec.ApprovalID).Msg("blocked failed-send removal failed")
	}
	if err := s.approvals.Transition(ctx, rec.ApprovalID, domain.StatusRejected, s.now(), func(r *domain.ApprovalRecord) {
		r.Notes = appendNote(r.Notes, "blocked by compliance: "+reason)
	}); err != nil {
		s.logger.Error().Err(err).Str("approval_id", rec.ApprovalID).Msg("blocked record rejection failed")
	}
	s.emit(ctx, domain.EventRecord{
		Type:       domain.EventBlockedByCompliance,
		ApprovalID: rec.ApprovalID,
		Channel:    rec.Channel,
		Metadata: map[string]string{
			"destination": rec.Destination,
			"reason":      reason,
			"stage":       "retry",
		},
	})
	return outcomeFailed
}

func (s *retryService) updateGauges(ctx context.Context) {
	if n, err := s.failed.Count(ctx); err == nil {
		observability.SetFailedBacklogSize(n)
	}
	if n, err := s.dead.Count(ctx); err == nil {
		observability.SetDeadLetterVolume(n)
	}
}

func (s *retryService) emit(ctx context.Context, event domain.EventRecord) {
	event.ID = uuid.NewString()
	event.Timestamp = s.now()
	if err := s.events.Append(ctx, event); err != nil {
		s.logger.Error().Err(err).Str("type", string(event.Type)).Msg("failed to append ledger event")
	}
}
