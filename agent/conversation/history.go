// Package conversation owns per-customer message history: the invariants it
// must satisfy, the serializer that orders turns, and the stores that persist
// it.
package conversation

import (
	"errors"
	"fmt"

	contractx "github.com/finserve-labs/loanflow/agent/contract"
)

var (
	ErrDanglingRequest  = errors.New("capability request without result")
	ErrUnmatchedResult  = errors.New("capability result without matching request")
	ErrMalformedMessage = errors.New("malformed history message")
)

// Validate checks the history invariant: every capability request is followed,
// before the next user message and before end of history, by exactly one
// result carrying its request id. A violation is a state-consistency fault;
// the orchestrator reacts by clearing the conversation.
func Validate(history []contractx.Message) error {
	pending := map[string]string{} // request id -> capability name

	for i, msg := range history {
		switch msg.Kind {
		case contractx.KindUserText:
			if len(pending) > 0 {
				return fmt.Errorf("%w: %d outstanding before message %d", ErrDanglingRequest, len(pending), i)
			}
		case contractx.KindAgentText:
			// terminal replies may follow resolved requests only
		case contractx.KindCapabilityRequest:
			if msg.Request == nil || msg.Request.ID == "" || msg.Request.Name == "" {
				return fmt.Errorf("%w: request at %d", ErrMalformedMessage, i)
			}
			if _, ok := pending[msg.Request.ID]; ok {
				return fmt.Errorf("%w: request id=%s reused at %d", ErrMalformedMessage, msg.Request.ID, i)
			}
			pending[msg.Request.ID] = msg.Request.Name
		case contractx.KindCapabilityResult:
			if msg.Result == nil || msg.Result.RequestID == "" {
				return fmt.Errorf("%w: result at %d", ErrMalformedMessage, i)
			}
			name, ok := pending[msg.Result.RequestID]
			if !ok {
				return fmt.Errorf("%w: request_id=%s at %d", ErrUnmatchedResult, msg.Result.RequestID, i)
			}
			if msg.Result.Name != name {
				return fmt.Errorf("%w: result name=%s for request name=%s at %d",
					ErrUnmatchedResult, msg.Result.Name, name, i)
			}
			delete(pending, msg.Result.RequestID)
		default:
			return fmt.Errorf("%w: unknown kind=%q at %d", ErrMalformedMessage, msg.Kind, i)
		}
	}

	if len(pending) > 0 {
		return fmt.Errorf("%w: %d outstanding at end of history", ErrDanglingRequest, len(pending))
	}
	return nil
}

// LastAgentReply returns the most recent terminal assistant reply, or "".
func LastAgentReply(history []contractx.Message) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Kind == contractx.KindAgentText {
			return history[i].Text
		}
	}
	return ""
}
