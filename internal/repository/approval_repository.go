package repository

import (
	"context"
	"sort"
	"time"

	"outreach-dispatch-service/internal/domain"
	"outreach-dispatch-service/internal/store"
	"outreach-dispatch-service/internal/types"
)

const approvalsCollection = "approvals"

type ApprovalRepository interface {
	// Creates a new approval record (a draft)
	Create(ctx context.Context, record *domain.ApprovalRecord) error
	GetByID(ctx context.Context, id string) (*domain.ApprovalRecord, error)
	// Retrieves records in the given status, ordered by creation time.
	ListByStatus(ctx context.Context, status domain.Status, limit int) ([]domain.ApprovalRecord, error)
	List(ctx context.Context, limit int) ([]domain.ApprovalRecord, error)
	// Claims an approved record for sending. Returns ErrNoRows if the
	// record is no longer approved (another pass already claimed it).
	Claim(ctx context.Context, id string, now time.Time) (*domain.ApprovalRecord, error)
	// Transition moves a record to the given status after validating the
	// move against the state machine. mut, when non-nil, applies extra
	// field changes alongside the status change.
	Transition(ctx context.Context, id string, to domain.Status, now time.Time, mut func(*domain.ApprovalRecord)) error
	// Resets records stuck in the sending claim back to approved.
	ResetStuckSending(ctx context.Context, now time.Time) (int, error)
}

type approvalRepository struct {
	coll *store.Collection[domain.ApprovalRecord]
}

func NewApprovalRepository(s *store.Store) ApprovalRepository {
	return &approvalRepository{coll: store.NewCollection[domain.ApprovalRecord](s, approvalsCollection)}
}

func (r *approvalRepository) Create(ctx context.Context, record *domain.ApprovalRecord) error {
	return r.coll.Append(*record)
}

func (r *approvalRepository) GetByID(ctx context.Context, id string) (*domain.ApprovalRecord, error) {
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

func (r *approvalRepository) ListByStatus(ctx context.Context, status domain.Status, limit int) ([]domain.ApprovalRecord, error) {
	items, err := r.coll.ReadAll()
	if err != nil {
		return nil, err
	}
	matched := make([]domain.ApprovalRecord, 0, len(items))
	for i := range items {
		if items[i].Status == status {
			matched = append(matched, items[i])
		}
	}
	sortByCreation(matched)
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (r *approvalRepository) List(ctx context.Context, limit int) ([]domain.ApprovalRecord, error) {
	items, err := r.coll.ReadAll()
	if err != nil {
		return nil, err
	}
	sortByCreation(items)
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (r *approvalRepository) Claim(ctx context.Context, id string, now time.Time) (*domain.ApprovalRecord, error) {
	var claimed *domain.ApprovalRecord
	n, err := r.coll.UpdateWhere(
		func(rec *domain.ApprovalRecord) bool {
			return rec.ID == id && rec.Status == domain.StatusApproved
		},
		func(rec *domain.ApprovalRecord) {
			rec.Status = domain.StatusSending
			rec.UpdatedAt = now
			copied := *rec
			claimed = &copied
		},
	)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, types.ErrNoRows
	}
	return claimed, nil
}

func (r *approvalRepository) Transition(ctx context.Context, id string, to domain.Status, now time.Time, mut func(*domain.ApprovalRecord)) error {
	found := false
	err := r.coll.Update(func(items []domain.ApprovalRecord) ([]domain.ApprovalRecord, error) {
		for i := range items {
			if items[i].ID != id {
				continue
			}
			found = true
			if !domain.CanTransition(items[i].Status, to) {
				return nil, types.ErrInvalidTransition
			}
			items[i].Status = to
			items[i].UpdatedAt = now
			if mut != nil {
				mut(&items[i])
			}
			return items, nil
		}
		return nil, types.ErrNotFound
	})
	if err != nil {
		return err
	}
	if !found {
		return types.ErrNotFound
	}
	return nil
}

func (r *approvalRepository) ResetStuckSending(ctx context.Context, now time.Time) (int, error) {
	return r.coll.UpdateWhere(
		func(rec *domain.ApprovalRecord) bool { return rec.Status == domain.StatusSending },
		func(rec *domain.ApprovalRecord) {
			rec.Status = domain.StatusApproved
			rec.UpdatedAt = now
		},
	)
}

func sortByCreation(records []domain.ApprovalRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].ID < records[j].ID
		}
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
}
