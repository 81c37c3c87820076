package repository

import (
	"context"

	"outreach-dispatch-service/internal/domain"
	"outreach-dispatch-service/internal/store"
)

const complianceCollection = "compliance"

type ComplianceRepository interface {
	// Adds a blocklist entry. Adding an identifier whose normalized form
	// is already present is a no-op; entries are never silently removed.
	Add(ctx context.Context, entry domain.ComplianceEntry) error
	ReadAll(ctx context.Context) ([]domain.ComplianceEntry, error)
}

type complianceRepository struct {
	coll *store.Collection[domain.ComplianceEntry]
}

func NewComplianceRepository(s *store.Store) ComplianceRepository {
	return &complianceRepository{coll: store.NewCollection[domain.ComplianceEntry](s, complianceCollection)}
}

func (r *complianceRepository) Add(ctx context.Context, entry domain.ComplianceEntry) error {
	return r.coll.Update(func(items []domain.ComplianceEntry) ([]domain.ComplianceEntry, error) {
		for i := range items {
			if items[i].Normalized == entry.Normalized {
				return items, nil
			}
		}
		return append(items, entry), nil
	})
}

func (r *complianceRepository) ReadAll(ctx context.Context) ([]domain.ComplianceEntry, error) {
	return r.coll.ReadAll()
}
