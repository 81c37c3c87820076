package services

import (
	"context"
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

// CycleResult is the deterministic exit status of one bounded pass.
type CycleResult struct {
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Deferred  int `json:"deferred"`
	Failed    int `json:"failed"`
}

// DispatchService turns approved records into attempted deliveries. One
// cycle is idempotent and bounded; records refused by the rate limiter stay
// approved and untouched for the next cycle.
type DispatchService interface {
	RunCycle(ctx context.Context, maxItems int) (CycleResult, error)
}

type dispatchService struct {
	mu        *sync.Mutex // serializes sending passes, shared with the retry sweep
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

func NewDispatchService(
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
) DispatchService {
	if now == nil {
		now = time.Now
	}
	if sendMu == nil {
		sendMu = &sync.Mutex{}
	}
	return &dispatchService{
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

func (s *dispatchService) RunCycle(ctx context.Context, maxItems int) (CycleResult, error) {
	// one sending pass at a time keeps rate-limit admission exact: the
	// window log cannot grow between a CanSend check and its RecordSend
	s.mu.Lock()
	defer s.mu.Unlock()

	var result CycleResult

	// fail closed: no blocklist, no dispatch
	if err := s.gate.Reload(ctx); err != nil {
		s.logger.Error().Err(err).Msg("dispatch cycle aborted: compliance blocklist unavailable")
		return result, err
	}

	// records stuck in the sending claim belong to a crashed pass
	if reset, err := s.approvals.ResetStuckSending(ctx, s.now()); err != nil {
		return result, err
	} else if reset > 0 {
		s.logger.Warn().Int("count", reset).Msg("reset stuck sending records")
	}

	if maxItems <= 0 {
		maxItems = s.cfg.DispatchBatchSize
	}
	batch, err := s.approvals.ListByStatus(ctx, domain.StatusApproved, maxItems)
	if err != nil {
		return result, err
	}

	for i := range batch {
		if ctx.Err() != nil {
			break
		}
		result.Processed++
		switch s.processRecord(ctx, &batch[i]) {
		case outcomeSent:
			result.Succeeded++
		case outcomeDeferred:
			result.Deferred++
		default:
			result.Failed++
		}
	}

	s.updateBacklogGauges(ctx)
	s.logger.Info().
		Int("processed", result.Processed).
		Int("succeeded", result.Succeeded).
		Int("deferred", result.Deferred).
		Int("failed", result.Failed).
		Msg("dispatch cycle complete")
	return result, nil
}

type outcome int

const (
	outcomeSent outcome = iota
	outcomeDeferred
	outcomeFailed
)

func (s *dispatchService) processRecord(ctx context.Context, rec *domain.ApprovalRecord) outcome {
	// defense in depth: the blocklist may have grown since the draft
	if blocked, reason := s.gate.IsBlocked(rec.Destination); blocked {
		return s.rejectBlocked(ctx, rec, reason)
	}

	// check configuration before the limiter: the limiter refuses an
	// unconfigured channel forever, which would hide the operator error
	// behind endless rate-limit deferrals
	a, adapterOK := s.adapters.Get(rec.Channel)
	chCfg, cfgOK := s.cfg.ChannelLimits()[rec.Channel]
	if !adapterOK || !cfgOK {
		msg := "no adapter configured for channel " + string(rec.Channel)
		if adapterOK {
			msg = "no rate configuration for channel " + string(rec.Channel)
		}
		claimed, ok := s.claim(ctx, rec.ID)
		if !ok {
			return outcomeDeferred
		}
		return s.failConfiguration(ctx, claimed, msg)
	}

	admitted, refusal, err := s.limiter.CanSend(ctx, rec.Channel)
	if err != nil {
		s.logger.Error().Err(err).Str("approval_id", rec.ID).Msg("rate limiter unavailable")
		return outcomeDeferred
	}
	if !admitted {
		observability.RecordRateLimited(string(rec.Channel))
		s.emit(ctx, domain.EventRecord{
			Type:       domain.EventRateLimited,
			ApprovalID: rec.ID,
			Channel:    rec.Channel,
			Metadata:   map[string]string{"reason": refusal},
		})
		return outcomeDeferred
	}

	claimed, ok := s.claim(ctx, rec.ID)
	if !ok {
		return outcomeDeferred
	}

	sendCtx, cancel := context.WithTimeout(ctx, chCfg.Timeout())
	err = a.Send(sendCtx, adapter.Outbound{
		ApprovalID:  claimed.ID,
		Destination: claimed.Destination,
		Subject:     claimed.Subject,
		Body:        claimed.Body,
	})
	cancel()

	if err != nil {
		return s.failAttempt(ctx, claimed, err)
	}
	return s.completeSend(ctx, claimed)
}

// claim takes the sending claim for one record. A lost race with another
// pass is not an error, just nothing to do.
func (s *dispatchService) claim(ctx context.Context, id string) (*domain.ApprovalRecord, bool) {
	claimed, err := s.approvals.Claim(ctx, id, s.now())
	if err != nil {
		if err != types.ErrNoRows {
			s.logger.Error().Err(err).Str("approval_id", id).Msg("claim failed")
		}
		return nil, false
	}
	return claimed, true
}

func (s *dispatchService) rejectBlocked(ctx context.Context, rec *domain.ApprovalRecord, reason string) outcome {
	observability.RecordComplianceBlock()
	observability.RecordDispatchOutcome("blocked")
	err := s.approvals.Transition(ctx, rec.ID, domain.StatusRejected, s.now(), func(r *domain.ApprovalRecord) {
		r.Notes = appendNote(r.Notes, "blocked by compliance: "+reason)
	})
	if err != nil {
		s.logger.Error().Err(err).Str("approval_id", rec.ID).Msg("reject of blocked record failed")
	}
	s.emit(ctx, domain.EventRecord{
		Type:       domain.EventBlockedByCompliance,
		ApprovalID: rec.ID,
		Channel:    rec.Channel,
		Metadata: map[string]string{
			"destination": rec.Destination,
			"reason":      reason,
			"stage":       "dispatch",
		},
	})
	return outcomeFailed
}

func (s *dispatchService) failConfiguration(ctx context.Context, rec *domain.ApprovalRecord, msg string) outcome {
	observability.RecordDispatchOutcome("config_error")
	err := s.approvals.Transition(ctx, rec.ID, domain.StatusFailed, s.now(), func(r *domain.ApprovalRecord) {
		r.LastError = msg
	})
	if err != nil {
		s.logger.Error().Err(err).Str("approval_id", rec.ID).Msg("configuration failure transition failed")
	}
	// configuration errors require operator action and are not auto-retried
	s.emit(ctx, domain.EventRecord{
		Type:       domain.EventFailed,
		ApprovalID: rec.ID,
		Channel:    rec.Channel,
		Metadata:   map[string]string{"error": msg, "kind": "configuration"},
	})
	s.logger.Error().Str("approval_id", rec.ID).Str("channel", string(rec.Channel)).Msg(msg)
	return outcomeFailed
}

func (s *dispatchService) failAttempt(ctx context.Context, rec *domain.ApprovalRecord, sendErr error) outcome {
	observability.RecordDispatchOutcome("failed")
	code, message := "adapter_error", sendErr.Error()
	if ae, ok := types.AsAdapterError(sendErr); ok {
		code, message = ae.Code, ae.Message
	}

	now := s.now()
	failedRec := domain.FailedSendRecord{
		ID:            uuid.NewString(),
		ApprovalID:    rec.ID,
		Channel:       rec.Channel,
		Destination:   rec.Destination,
		Subject:       rec.Subject,
		Body:          rec.Body,
		ErrorCode:     code,
		ErrorMessage:  message,
		RetryCount:    1,
		MaxRetries:    s.cfg.MaxRetries,
		NextRetryAt:   now.Add(backoffFor(s.cfg.BackoffSchedule(), 1)),
		FirstFailedAt: now,
	}
	if err := s.failed.Upsert(ctx, failedRec); err != nil {
		s.logger.Error().Err(err).Str("approval_id", rec.ID).Msg("failed-send record upsert failed")
	}
	err := s.approvals.Transition(ctx, rec.ID, domain.StatusFailed, now, func(r *domain.ApprovalRecord) {
		r.LastError = message
	})
	if err != nil {
		s.logger.Error().Err(err).Str("approval_id", rec.ID).Msg("failure transition failed")
	}
	s.emit(ctx, domain.EventRecord{
		Type:       domain.EventFailed,
		ApprovalID: rec.ID,
		Channel:    rec.Channel,
		Metadata:   map[string]string{"error_code": code, "error": message},
	})
	s.logger.Warn().Str("approval_id", rec.ID).Str("error_code", code).Msg("send attempt failed")
	return outcomeFailed
}

func (s *dispatchService) completeSend(ctx context.Context, rec *domain.ApprovalRecord) outcome {
	target := domain.StatusSent
	eventType := domain.EventSent
	if rec.Channel.ManualConfirmation() {
		target = domain.StatusApprovedOpened
		eventType = domain.EventApprovedOpened
	}

	if err := s.approvals.Transition(ctx, rec.ID, target, s.now(), nil); err != nil {
		// the record left the sending claim under us, most likely a
		// concurrent reject; without the status flip this delivery must
		// not be recorded as sent
		observability.RecordDispatchOutcome("failed")
		s.logger.Error().Err(err).Str("approval_id", rec.ID).Msg("send completion transition failed")
		return outcomeFailed
	}
	if err := s.limiter.RecordSend(ctx, rec.Channel, rec.ID); err != nil {
		s.logger.Error().Err(err).Str("approval_id", rec.ID).Msg("send window append failed")
	}

	observability.RecordDispatchOutcome("sent")
	observability.RecordSend(string(rec.Channel))
	s.emit(ctx, domain.EventRecord{
		Type:       eventType,
		ApprovalID: rec.ID,
		Channel:    rec.Channel,
		Metadata:   map[string]string{"destination": rec.Destination},
	})
	s.logger.Info().Str("approval_id", rec.ID).Str("channel", string(rec.Channel)).Msg("record dispatched")
	return outcomeSent
}

func (s *dispatchService) updateBacklogGauges(ctx context.Context) {
	if n, err := s.failed.Count(ctx); err == nil {
		observability.SetFailedBacklogSize(n)
	}
	if n, err := s.dead.Count(ctx); err == nil {
		observability.SetDeadLetterVolume(n)
	}
}

func (s *dispatchService) emit(ctx context.Context, event domain.EventRecord) {
	event.ID = uuid.NewString()
	event.Timestamp = s.now()
	if err := s.events.Append(ctx, event); err != nil {
		s.logger.Error().Err(err).Str("type", string(event.Type)).Msg("failed to append ledger event")
	}
}

// backoffFor returns the delay before the next retry after the given number
// of failed attempts, clamped to the last schedule entry.
func backoffFor(schedule []time.Duration, retryCount int) time.Duration {
	if len(schedule) == 0 {
		return 5 * time.Minute
	}
	idx := retryCount - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(schedule) {
		idx = len(schedule) - 1
	}
	return schedule[idx]
}
