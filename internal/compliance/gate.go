// Package compliance enforces the do-not-contact blocklist. The gate is
// consulted twice per communication: before a draft is created and again
// immediately before a channel adapter is invoked, since blocklist entries
// can be added after a draft already exists.
package compliance

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"outreach-dispatch-service/internal/domain"
	"outreach-dispatch-service/internal/repository"
)

type Gate struct {
	repo         repository.ComplianceRepository
	stripAliases bool

	mu      sync.RWMutex
	loaded  bool
	blocked map[string]string // normalized identifier -> reason
}

func NewGate(repo repository.ComplianceRepository, stripAliases bool) *Gate {
	return &Gate{
		repo:         repo,
		stripAliases: stripAliases,
		blocked:      map[string]string{},
	}
}

// Reload rebuilds the in-memory lookup from the blocklist collection. Both
// the raw and the normalized identifier of every entry are indexed.
func (g *Gate) Reload(ctx context.Context) error {
	entries, err := g.repo.ReadAll(ctx)
	if err != nil {
		return fmt.Errorf("reload compliance blocklist: %w", err)
	}

	blocked := make(map[string]string, len(entries)*2)
	for _, e := range entries {
		if e.Identifier != "" {
			blocked[g.Normalize(e.Identifier)] = e.Reason
		}
		if e.Normalized != "" {
			blocked[e.Normalized] = e.Reason
		}
	}

	g.mu.Lock()
	g.blocked = blocked
	g.loaded = true
	g.mu.Unlock()
	return nil
}

// IsBlocked reports whether the identifier must not be contacted. A gate
// that has never loaded its data fails closed: everything is blocked until
// a Reload succeeds.
func (g *Gate) IsBlocked(identifier string) (bool, string) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if !g.loaded {
		return true, "compliance blocklist not loaded"
	}
	if reason, ok := g.blocked[g.Normalize(identifier)]; ok {
		return true, reason
	}
	return false, ""
}

// Normalize folds an identifier for matching. Email local parts stay
// case-sensitive; only the domain is lowercased, and a "+tag" sub-address
// suffix is stripped when alias stripping is enabled. Phone-like
// identifiers drop separator characters. The alias rule is deliberately
// configurable (strip_aliases).
func (g *Gate) Normalize(identifier string) string {
	id := strings.TrimSpace(identifier)
	if at := strings.LastIndex(id, "@"); at > 0 {
		local := id[:at]
		dom := strings.ToLower(id[at+1:])
		if g.stripAliases {
			if plus := strings.Index(local, "+"); plus > 0 {
				local = local[:plus]
			}
		}
		return local + "@" + dom
	}
	return stripPhoneSeparators(id)
}

func stripPhoneSeparators(id string) string {
	var b strings.Builder
	b.Grow(len(id))
	for _, r := range id {
		switch r {
		case ' ', '-', '.', '(', ')':
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// NewEntry builds a blocklist entry with its normalized form filled in.
func (g *Gate) NewEntry(identifier, reason string, source domain.ComplianceSource, addedBy string) domain.ComplianceEntry {
	return domain.ComplianceEntry{
		Identifier: identifier,
		Normalized: g.Normalize(identifier),
		Reason:     reason,
		Source:     source,
		AddedBy:    addedBy,
	}
}
