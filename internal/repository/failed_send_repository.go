package repository

import (
	"context"
	"sort"
	"time"

	"outreach-dispatch-service/internal/domain"
	"outreach-dispatch-service/internal/store"
	"outreach-dispatch-service/internal/types"
)

const failedSendsCollection = "failed_sends"

type FailedSendRepository interface {
	// Upsert keyed by approval id: a repeated dispatch failure for the
	// same approval refreshes the existing record instead of adding a
	// second one.
	Upsert(ctx context.Context, record domain.FailedSendRecord) error
	// Retrieves records whose next retry is due, ordered by first failure.
	Due(ctx context.Context, now time.Time, limit int) ([]domain.FailedSendRecord, error)
	ReadAll(ctx context.Context) ([]domain.FailedSendRecord, error)
	GetByID(ctx context.Context, id string) (*domain.FailedSendRecord, error)
	// Reschedules a record after another failed attempt.
	Reschedule(ctx context.Context, id string, retryCount int, nextRetryAt time.Time, errCode, errMessage string) error
	Remove(ctx context.Context, id string) error
	RemoveByApprovalID(ctx context.Context, approvalID string) (int, error)
	Count(ctx context.Context) (int, error)
}

type failedSendRepository struct {
	coll *store.Collection[domain.FailedSendRecord]
}

func NewFailedSendRepository(s *store.Store) FailedSendRepository {
	return &failedSendRepository{coll: store.NewCollection[domain.FailedSendRecord](s, failedSendsCollection)}
}

func (r *failedSendRepository) Upsert(ctx context.Context, record domain.FailedSendRecord) error {
	return r.coll.Update(func(items []domain.FailedSendRecord) ([]domain.FailedSendRecord, error) {
		for i := range items {
			if items[i].ApprovalID == record.ApprovalID {
				// keep identity and history of the original failure
				record.ID = items[i].ID
				record.FirstFailedAt = items[i].FirstFailedAt
				if record.RetryCount < items[i].RetryCount {
					record.RetryCount = items[i].RetryCount
				}
				items[i] = record
				return items, nil
			}
		}
		return append(items, record), nil
	})
}

func (r *failedSendRepository) Due(ctx context.Context, now time.Time, limit int) ([]domain.FailedSendRecord, error) {
	items, err := r.coll.ReadAll()
	if err != nil {
		return nil, err
	}
	due := make([]domain.FailedSendRecord, 0, len(items))
	for i := range items {
		if !items[i].NextRetryAt.After(now) {
			due = append(due, items[i])
		}
	}
	sort.SliceStable(due, func(i, j int) bool {
		if due[i].FirstFailedAt.Equal(due[j].FirstFailedAt) {
			return due[i].ID < due[j].ID
		}
		return due[i].FirstFailedAt.Before(due[j].FirstFailedAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (r *failedSendRepository) ReadAll(ctx context.Context) ([]domain.FailedSendRecord, error) {
	return r.coll.ReadAll()
}

func (r *failedSendRepository) GetByID(ctx context.Context, id string) (*domain.FailedSendRecord, error) {
	items, err := r.coll.ReadAll()
	if err != nil {
		return nil, err
	}
	for i := range items {
		if items[i].ID == id {
			rec := items[i]
			return &rec, nil
		}
	}
	return nil, types.ErrNotFound
}

func (r *failedSendRepository) Reschedule(ctx context.Context, id string, retryCount int, nextRetryAt time.Time, errCode, errMessage string) error {
	n, err := r.coll.UpdateWhere(
		func(rec *domain.FailedSendRecord) bool { return rec.ID == id },
		func(rec *domain.FailedSendRecord) {
			rec.RetryCount = retryCount
			rec.NextRetryAt = nextRetryAt
			rec.ErrorCode = errCode
			rec.ErrorMessage = errMessage
		},
	)
	if err != nil {
		return err
	}
	if n == 0 {
		return types.ErrNotFound
	}
	return nil
}

func (r *failedSendRepository) Remove(ctx context.Context, id string) error {
	return r.coll.Update(func(items []domain.FailedSendRecord) ([]domain.FailedSendRecord, error) {
		next := items[:0]
		for i := range items {
			if items[i].ID != id {
				next = append(next, items[i])
			}
		}
		return next, nil
	})
}

func (r *failedSendRepository) RemoveByApprovalID(ctx context.Context, approvalID string) (int, error) {
	removed := 0
	err := r.coll.Update(func(items []domain.FailedSendRecord) ([]domain.FailedSendRecord, error) {
		next := items[:0]
		for i := range items {
			if items[i].ApprovalID == approvalID {
				removed++
				continue
			}
			next = append(next, items[i])
		}
		return next, nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

func (r *failedSendRepository) Count(ctx context.Context) (int, error) {
	items, err := r.coll.ReadAll()
	if err != nil {
		return 0, err
	}
	return len(items), nil
}
