// Package adapter defines the uniform contract between the dispatch router
// and the per-channel delivery providers. The router treats every adapter
// identically; channel-specific behavior lives behind Send.
package adapter

import (
	"context"

	"outreach-dispatch-service/internal/domain"
)

// Outbound is the message snapshot handed to an adapter.
type Outbound struct {
	ApprovalID  string `json:"approval_id"`
	Destination string `json:"destination"`
	Subject     string `json:"subject,omitempty"`
	Body        string `json:"body"`
}

type Adapter interface {
	Send(ctx context.Context, msg Outbound) error
}

// Registry maps channels to their adapters. A channel without an adapter is
// a configuration error for records on that channel.
type Registry struct {
	adapters map[domain.Channel]Adapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[domain.Channel]Adapter)}
}

func (r *Registry) Register(channel domain.Channel, a Adapter) {
	r.adapters[channel] = a
}

func (r *Registry) Get(channel domain.Channel) (Adapter, bool) {
	a, ok := r.adapters[channel]
	return a, ok
}
