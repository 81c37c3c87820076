package repository

import (
	"context"

	"outreach-dispatch-service/internal/domain"
	"outreach-dispatch-service/internal/store"
)

const sendWindowCollection = "send_window"

type SendWindowRepository interface {
	// Appends one dispatch timestamp. Must only be called after a
	// confirmed successful send.
	Append(ctx context.Context, entry domain.SendWindowEntry) error
	// Returns the window log for one channel, in append order.
	EntriesFor(ctx context.Context, channel domain.Channel) ([]domain.SendWindowEntry, error)
}

type sendWindowRepository struct {
	coll *store.Collection[domain.SendWindowEntry]
}

func NewSendWindowRepository(s *store.Store) SendWindowRepository {
	return &sendWindowRepository{coll: store.NewCollection[domain.SendWindowEntry](s, sendWindowCollection)}
}

func (r *sendWindowRepository) Append(ctx context.Context, entry domain.SendWindowEntry) error {
	return r.coll.Append(entry)
}

func (r *sendWindowRepository) EntriesFor(ctx context.Context, channel domain.Channel) ([]domain.SendWindowEntry, error) {
	items, err := r.coll.ReadAll()
	if err != nil {
		return nil, err
	}
	matched := make([]domain.SendWindowEntry, 0, len(items))
	for i := range items {
		if items[i].Channel == channel {
			matched = append(matched, items[i])
		}
	}
	return matched, nil
}
