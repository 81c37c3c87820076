package repository

import (
	"context"

	"outreach-dispatch-service/internal/domain"
	"outreach-dispatch-service/internal/store"
)

const deadLettersCollection = "dead_letters"

type DeadLetterRepository interface {
	// Appends a permanently failed send. Appending the same record id
	// twice is a no-op, so the failed→dead-letter move stays idempotent.
	Append(ctx context.Context, record domain.DeadLetterRecord) error
	ReadAll(ctx context.Context) ([]domain.DeadLetterRecord, error)
	ContainsApproval(ctx context.Context, approvalID string) (bool, error)
	Count(ctx context.Context) (int, error)
}

type deadLetterRepository struct {
	coll *store.Collection[domain.DeadLetterRecord]
}

func NewDeadLetterRepository(s *store.Store) DeadLetterRepository {
	return &deadLetterRepository{coll: store.NewCollection[domain.DeadLetterRecord](s, deadLettersCollection)}
}

func (r *deadLetterRepository) Append(ctx context.Context, record domain.DeadLetterRecord) error {
	return r.coll.Update(func(items []domain.DeadLetterRecord) ([]domain.DeadLetterRecord, error) {
		for i := range items {
			if items[i].ID == record.ID {
				return items, nil
			}
		}
		return append(items, record), nil
	})
}

func (r *deadLetterRepository) ReadAll(ctx context.Context) ([]domain.DeadLetterRecord, error) {
	return r.coll.ReadAll()
}

func (r *deadLetterRepository) ContainsApproval(ctx context.Context, approvalID string) (bool, error) {
	items, err := r.coll.ReadAll()
	if err != nil {
		return false, err
	}
	for i := range items {
		if items[i].ApprovalID == approvalID {
			return true, nil
		}
	}
	return false, nil
}

func (r *deadLetterRepository) Count(ctx context.Context) (int, error) {
	items, err := r.coll.ReadAll()
	if err != nil {
		return 0, err
	}
	return len(items), nil
}
