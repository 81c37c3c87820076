package repository

import (
	"context"

	"outreach-dispatch-service/internal/domain"
	"outreach-dispatch-service/internal/store"
)

const eventsCollection = "events"

// EventFilter narrows List results. Zero values match everything.
type EventFilter struct {
	Type       domain.EventType
	ApprovalID string
	Limit      int
}

type EventRepository interface {
	// Appends one ledger entry. Entries are never mutated or deleted.
	Append(ctx context.Context, event domain.EventRecord) error
	List(ctx context.Context, filter EventFilter) ([]domain.EventRecord, error)
}

type eventRepository struct {
	coll *store.Collection[domain.EventRecord]
}

func NewEventRepository(s *store.Store) EventRepository {
	return &eventRepository{coll: store.NewCollection[domain.EventRecord](s, eventsCollection)}
}

func (r *eventRepository) Append(ctx context.Context, event domain.EventRecord) error {
	return r.coll.Append(event)
}

func (r *eventRepository) List(ctx context.Context, filter EventFilter) ([]domain.EventRecord, error) {
	items, err := r.coll.ReadAll()
	if err != nil {
		return nil, err
	}
	matched := make([]domain.EventRecord, 0, len(items))
	for i := range items {
		if filter.Type != "" && items[i].Type != filter.Type {
			continue
		}
		if filter.ApprovalID != "" && items[i].ApprovalID != filter.ApprovalID {
			continue
		}
		matched = append(matched, items[i])
	}
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[len(matched)-filter.Limit:]
	}
	return matched, nil
}
