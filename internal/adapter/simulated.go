package adapter

import (
	"context"

	"github.com/rs/zerolog"
)

// SimulatedAdapter logs the message instead of delivering it. Used for
// dry-run channels and local development.
type SimulatedAdapter struct {
	logger zerolog.Logger
}

func NewSimulatedAdapter(logger zerolog.Logger) *SimulatedAdapter {
	return &SimulatedAdapter{logger: logger}
}

func (a *SimulatedAdapter) Send(ctx context.Context, msg Outbound) error {
	a.logger.Info().
		Str("approval_id", msg.ApprovalID).
		Str("destination", msg.Destination).
		Str("subject", msg.Subject).
		Msg("simulated send")
	return nil
}
