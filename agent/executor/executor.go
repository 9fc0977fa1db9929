// Package executor turns decided capability calls into observations.
package executor

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	capabilityx "github.com/finserve-labs/loanflow/agent/capability"
	contractx "github.com/finserve-labs/loanflow/agent/contract"
)

// TurnExecutor resolves capability calls against the static registry and
// wraps every outcome, failures included, as an observation the decision
// step can see and react to. It never returns a non-nil error for a
// failed capability.
type TurnExecutor struct {
	registry *capabilityx.Registry
}

func New(registry *capabilityx.Registry) (*TurnExecutor, error) {
	if registry == nil {
		return nil, errors.New("capability registry is required")
	}
	return &TurnExecutor{registry: registry}, nil
}

func (e *TurnExecutor) Invoke(ctx context.Context, call contractx.CapabilityCall) (contractx.CapabilityOutcome, error) {
	outcome := contractx.CapabilityOutcome{
		RequestID: call.ID,
		Name:      call.Name,
	}

	payload, err := e.registry.Invoke(ctx, call)
	if err != nil {
		log.Warn().
			Str("capability", call.Name).
			Str("request_id", call.ID).
			Err(err).
			Msg("capability invocation failed")
		outcome.Error = errorSummary(err)
		return outcome, nil
	}

	outcome.Payload = payload
	log.Debug().
		Str("capability", call.Name).
		Str("request_id", call.ID).
		Int("payload_bytes", len(payload)).
		Msg("capability invoked")
	return outcome, nil
}

// errorSummary keeps the observation structured without leaking transport
// detail like URLs into model context verbatim.
func errorSummary(err error) string {
	switch {
	case errors.Is(err, contractx.ErrNotFound):
		return "not_found: " + err.Error()
	case errors.Is(err, contractx.ErrUnavailable):
		return "unavailable: the service did not return a usable response"
	case errors.Is(err, contractx.ErrValidation):
		return "invalid_arguments: " + err.Error()
	default:
		return "error: " + err.Error()
	}
}
