package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"outreach-dispatch-service/internal/api/dto"
	"outreach-dispatch-service/internal/domain"
	"outreach-dispatch-service/internal/repository"
	"outreach-dispatch-service/internal/services"
	"outreach-dispatch-service/internal/types"
	"outreach-dispatch-service/internal/worker"
)

type Handler struct {
	approvalService services.ApprovalService
	dispatchService services.DispatchService
	retryService    services.RetryService
	failedRepo      repository.FailedSendRepository
	deadRepo        repository.DeadLetterRepository
	eventRepo       repository.EventRepository
	jobManager      *worker.JobManager
	appCtx          context.Context
}

func NewHandler(
	approvalService services.ApprovalService,
	dispatchService services.DispatchService,
	retryService services.RetryService,
	failedRepo repository.FailedSendRepository,
	deadRepo repository.DeadLetterRepository,
	eventRepo repository.EventRepository,
	jobManager *worker.JobManager,
	appCtx context.Context,
) *Handler {
	return &Handler{
		approvalService: approvalService,
		dispatchService: dispatchService,
		retryService:    retryService,
		failedRepo:      failedRepo,
		deadRepo:        deadRepo,
		eventRepo:       eventRepo,
		jobManager:      jobManager,
		appCtx:          appCtx,
	}
}

// createDraftHandler
// @Summary      Creates a pending draft
// @Description  Creates a new approval record with 'pending' status after a compliance pre-check.
func (h *Handler) createDraftHandler(c *gin.Context) {
	var req dto.CreateDraftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid request: " + err.Error()})
		return
	}

	record, err := h.approvalService.CreateDraft(c.Request.Context(), services.DraftRequest{
		ContactID:   req.ContactID,
		Channel:     domain.Channel(req.Channel),
		Action:      domain.ActionKind(req.Action),
		Subject:     req.Subject,
		Body:        req.Body,
		Destination: req.Destination,
		Notes:       req.Notes,
		Actor:       req.Actor,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toApprovalResponse(*record))
}

// listApprovalsHandler
// @Summary      Lists approval records
// @Description  Fetches approval records, optionally filtered by status, ordered by creation time.
func (h *Handler) listApprovalsHandler(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil || limit < 0 {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid limit"})
		return
	}
	status := domain.Status(c.Query("status"))

	records, err := h.approvalService.List(c.Request.Context(), status, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	resp := dto.ApprovalsResponse{Approvals: make([]dto.ApprovalResponse, len(records)), Total: len(records)}
	for i, rec := range records {
		resp.Approvals[i] = toApprovalResponse(rec)
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) getApprovalHandler(c *gin.Context) {
	record, err := h.approvalService.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toApprovalResponse(*record))
}

// approveHandler
// @Summary      Approves a pending record
func (h *Handler) approveHandler(c *gin.Context) {
	var req dto.ApproveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid request: " + err.Error()})
		return
	}
	if err := h.approvalService.Approve(c.Request.Context(), c.Param("id"), req.Approver); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) rejectHandler(c *gin.Context) {
	var req dto.RejectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid request: " + err.Error()})
		return
	}
	if err := h.approvalService.Reject(c.Request.Context(), c.Param("id"), req.Actor, req.Reason); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// editHandler
// @Summary      Edits a draft
// @Description  Applies field changes and resets the record to 'pending', clearing any approval.
func (h *Handler) editHandler(c *gin.Context) {
	var req dto.EditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid request: " + err.Error()})
		return
	}
	patch := services.DraftPatch{Subject: req.Subject, Body: req.Body, Destination: req.Destination}
	if err := h.approvalService.Edit(c.Request.Context(), c.Param("id"), req.Actor, patch); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) markSentManualHandler(c *gin.Context) {
	var req dto.MarkSentManualRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid request: " + err.Error()})
		return
	}
	if err := h.approvalService.MarkSentManual(c.Request.Context(), c.Param("id"), req.Actor); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// blockIdentifierHandler
// @Summary      Adds a do-not-contact entry
func (h *Handler) blockIdentifierHandler(c *gin.Context) {
	var req dto.BlockIdentifierRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid request: " + err.Error()})
		return
	}
	err := h.approvalService.BlockIdentifier(
		c.Request.Context(), req.Identifier, req.Reason, domain.ComplianceSource(req.Source), req.Actor,
	)
	if err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusCreated)
}

func (h *Handler) listFailedSendsHandler(c *gin.Context) {
	records, err := h.failedRepo.ReadAll(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"failedSends": records, "total": len(records)})
}

func (h *Handler) listDeadLettersHandler(c *gin.Context) {
	records, err := h.deadRepo.ReadAll(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deadLetters": records, "total": len(records)})
}

func (h *Handler) listEventsHandler(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "200"))
	if err != nil || limit < 0 {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid limit"})
		return
	}
	filter := repository.EventFilter{
		Type:       domain.EventType(c.Query("type")),
		ApprovalID: c.Query("approvalId"),
		Limit:      limit,
	}
	events, err := h.eventRepo.List(c.Request.Context(), filter)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events, "total": len(events)})
}

// runDispatchCycleHandler
// @Summary      Runs one dispatch pass now
// @Description  Processes approved records up to the max query parameter and reports the pass counts.
func (h *Handler) runDispatchCycleHandler(c *gin.Context) {
	maxItems, err := strconv.Atoi(c.DefaultQuery("max", "0"))
	if err != nil || maxItems < 0 {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid max"})
		return
	}
	result, err := h.dispatchService.RunCycle(c.Request.Context(), maxItems)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toCycleResponse(result))
}

func (h *Handler) runRetrySweepHandler(c *gin.Context) {
	maxItems, err := strconv.Atoi(c.DefaultQuery("max", "0"))
	if err != nil || maxItems < 0 {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid max"})
		return
	}
	result, err := h.retryService.RunSweep(c.Request.Context(), maxItems)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toCycleResponse(result))
}

// toggleJobHandler
// @Summary      Starts or stops a scheduled job
// @Description  Toggles the named job based on its current state.
func (h *Handler) toggleJobHandler(c *gin.Context) {
	name := c.Param("name")
	var err error
	var resp dto.JobResponse

	if h.jobManager.IsRunning(name) {
		err = h.jobManager.Stop(name)
		resp = dto.JobResponse{Job: name, Status: "stopped"}
	} else {
		err = h.jobManager.Start(h.appCtx, name)
		resp = dto.JobResponse{Job: name, Status: "started"}
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, resp)
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, types.ErrNotFound) || errors.Is(err, types.ErrNoRows):
		c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: "not found"})
	case errors.Is(err, types.ErrInvalidTransition):
		c.JSON(http.StatusConflict, dto.ErrorResponse{Error: err.Error()})
	case errors.Is(err, types.ErrBlockedByCompliance):
		c.JSON(http.StatusUnprocessableEntity, dto.ErrorResponse{Error: err.Error()})
	case errors.Is(err, types.ErrConfiguration):
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
	case errors.Is(err, types.ErrStoreUnavailable):
		c.JSON(http.StatusServiceUnavailable, dto.ErrorResponse{Error: "record store unavailable"})
	default:
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "unexpected error"})
	}
}

func toApprovalResponse(rec domain.ApprovalRecord) dto.ApprovalResponse {
	return dto.ApprovalResponse{
		ID:          rec.ID,
		ContactID:   rec.ContactID,
		Channel:     string(rec.Channel),
		Action:      string(rec.Action),
		Subject:     rec.Subject,
		Body:        rec.Body,
		Destination: rec.Destination,
		Status:      string(rec.Status),
		ApprovedBy:  rec.ApprovedBy,
		ApprovedAt:  rec.ApprovedAt,
		Notes:       rec.Notes,
		LastError:   rec.LastError,
		CreatedAt:   rec.CreatedAt,
		UpdatedAt:   rec.UpdatedAt,
	}
}

func toCycleResponse(result services.CycleResult) dto.CycleResponse {
	return dto.CycleResponse{
		Processed: result.Processed,
		Succeeded: result.Succeeded,
		Deferred:  result.Deferred,
		Failed:    result.Failed,
	}
}
