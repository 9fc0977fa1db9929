package contract

import "context"

// Decider maps (history, policy) to the next action. Implementations may be
// non-deterministic (LLM-backed) or rule-based; the orchestrator treats any
// failure as retryable-once-then-degrade, never as a crash.
type Decider interface {
	Decide(ctx context.Context, req DecisionRequest) (Decision, error)
}

// Invoker executes one decided capability call and returns the observation.
// Downstream and validation failures surface inside the outcome, not as a
// returned error; a non-nil error means the executor itself is broken.
type Invoker interface {
	Invoke(ctx context.Context, call CapabilityCall) (CapabilityOutcome, error)
}

// Archiver receives terminal application records. Implementations must be
// safe to call best-effort: the orchestrator logs and ignores failures.
type Archiver interface {
	Archive(ctx context.Context, rec ApplicationRecord) error
}
