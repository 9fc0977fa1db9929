// Package orchestrator runs the conversation turn loop: it serializes
// turns per customer, asks the decider what to do next, executes
// capability requests, and persists the resulting history.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	capabilityx "github.com/finserve-labs/loanflow/agent/capability"
	contractx "github.com/finserve-labs/loanflow/agent/contract"
	conversationx "github.com/finserve-labs/loanflow/agent/conversation"
)

const (
	// replyRecovered is returned when stored state fails validation and
	// has been cleared so the customer can start over.
	replyRecovered = "Sorry, we hit a small hiccup on our side and had to restart your application. Could you tell me again what you need?"

	// replyUnavailable is returned when the decider fails twice in a row.
	replyUnavailable = "Sorry, I am unable to help with that right now. Please try again in a moment."
)

// Config tunes the turn loop.
type Config struct {
	MaxIterations int           `split_words:"true" default:"8"`
	DecideTimeout time.Duration `split_words:"true" default:"60s"`
}

// Service owns the end-to-end handling of one chat turn.
type Service struct {
	store      conversationx.Store
	serializer *conversationx.Serializer
	decider    contractx.Decider
	invoker    contractx.Invoker
	archiver   contractx.Archiver
	policy     string
	cfg        Config
}

// New wires a Service. Store, decider and invoker are required; a nil
// archiver disables archival.
func New(store conversationx.Store, decider contractx.Decider, invoker contractx.Invoker, archiver contractx.Archiver, policy string, cfg Config) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: nil conversation store", contractx.ErrValidation)
	}
	if decider == nil {
		return nil, fmt.Errorf("%w: nil decider", contractx.ErrValidation)
	}
	if invoker == nil {
		return nil, fmt.Errorf("%w: nil invoker", contractx.ErrValidation)
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 8
	}
	return &Service{
		store:      store,
		serializer: conversationx.NewSerializer(),
		decider:    decider,
		invoker:    invoker,
		archiver:   archiver,
		policy:     policy,
		cfg:        cfg,
	}, nil
}

/* ---------------------------------- chat turn ---------------------------------- */

// ChatTurn processes one customer message and returns the agent reply.
// Turns for the same customer run strictly one at a time. An accepted turn
// runs to its terminal state even if the caller's context is cancelled:
// capabilities may already have executed downstream, and abandoning the turn
// mid-flight would lose their results and replay the side effects on the
// next message.
func (s *Service) ChatTurn(ctx context.Context, customerID, message string) (string, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return "", fmt.Errorf("%w: empty customer id", contractx.ErrValidation)
	}
	message = strings.TrimSpace(message)
	if message == "" {
		return "", fmt.Errorf("%w: empty message", contractx.ErrValidation)
	}
	ctx = context.WithoutCancel(ctx)

	release := s.serializer.Acquire(customerID)
	defer release()

	history, err := s.store.Load(ctx, customerID)
	if err != nil {
		return "", fmt.Errorf("load conversation: %w", err)
	}

	if err := conversationx.Validate(history); err != nil {
		log.Warn().Err(err).Str("customer_id", customerID).Msg("stored conversation failed validation, clearing")
		if _, clearErr := s.store.Clear(ctx, customerID); clearErr != nil {
			return "", fmt.Errorf("clear corrupted conversation: %w", clearErr)
		}
		return replyRecovered, nil
	}

	if len(history) == 0 {
		message = s.frameFirstMessage(customerID, message)
	}

	now := time.Now().UTC()
	pending := []contractx.Message{contractx.UserText(message, now)}

	reply, pending, err := s.runLoop(ctx, customerID, history, pending)
	if err != nil {
		// The decider failed twice. Nothing from this turn is persisted.
		log.Error().Err(err).Str("customer_id", customerID).Msg("turn abandoned")
		return replyUnavailable, nil
	}

	pending = append(pending, contractx.AgentText(reply, time.Now().UTC()))
	if err := s.store.Append(ctx, customerID, pending); err != nil {
		return "", fmt.Errorf("persist conversation: %w", err)
	}
	s.archiveOutcomes(ctx, customerID, pending)
	return reply, nil
}

// runLoop alternates deciding and invoking until the decider produces a
// terminal reply or the iteration bound is hit.
func (s *Service) runLoop(ctx context.Context, customerID string, history, pending []contractx.Message) (string, []contractx.Message, error) {
	for i := 0; i < s.cfg.MaxIterations; i++ {
		decision, err := s.decide(ctx, customerID, append(history, pending...))
		if err != nil {
			return "", nil, err
		}
		if decision.Terminal() {
			return decision.Reply, pending, nil
		}

		for _, request := range decision.Requests {
			pending = append(pending, contractx.RequestMessage(request, time.Now().UTC()))
			outcome, err := s.invoker.Invoke(ctx, request)
			if err != nil {
				return "", nil, fmt.Errorf("invoke %s: %w", request.Name, err)
			}
			pending = append(pending, contractx.ResultMessage(outcome, time.Now().UTC()))
		}
	}
	log.Warn().Str("customer_id", customerID).Int("iterations", s.cfg.MaxIterations).Msg("turn loop bound reached")
	return replyUnavailable, pending, nil
}

// decide calls the decider, retrying once with capabilities disabled so a
// malformed tool exchange can still yield a plain text reply. Each attempt
// gets its own timeout; a primary attempt that exhausts the deadline must
// not doom the retry.
func (s *Service) decide(ctx context.Context, customerID string, history []contractx.Message) (contractx.Decision, error) {
	req := contractx.DecisionRequest{ConversationID: customerID, History: history}
	decision, err := s.decideOnce(ctx, req)
	if err == nil {
		return decision, nil
	}
	log.Warn().Err(err).Str("customer_id", customerID).Msg("decision failed, retrying without capabilities")

	req.DisableCapabilities = true
	decision, retryErr := s.decideOnce(ctx, req)
	if retryErr != nil {
		return contractx.Decision{}, fmt.Errorf("decide retry: %w", retryErr)
	}
	return decision, nil
}

func (s *Service) decideOnce(ctx context.Context, req contractx.DecisionRequest) (contractx.Decision, error) {
	if s.cfg.DecideTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.DecideTimeout)
		defer cancel()
	}
	return s.decider.Decide(ctx, req)
}

// frameFirstMessage prefixes the opening customer message with the agent
// policy and the customer identity. Later turns carry the raw text only.
func (s *Service) frameFirstMessage(customerID, message string) string {
	if s.policy == "" {
		return fmt.Sprintf("customer_id: %s\n\n%s", customerID, message)
	}
	return fmt.Sprintf("%s\n\ncustomer_id: %s\n\nCustomer says: %s", s.policy, customerID, message)
}

/* ----------------------------------- reset ----------------------------------- */

// Reset discards the stored conversation for a customer. It reports
// whether anything existed to clear.
func (s *Service) Reset(ctx context.Context, customerID string) (bool, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return false, fmt.Errorf("%w: empty customer id", contractx.ErrValidation)
	}
	release := s.serializer.Acquire(customerID)
	defer release()

	existed, err := s.store.Clear(ctx, customerID)
	if err != nil {
		return false, fmt.Errorf("clear conversation: %w", err)
	}
	return existed, nil
}

/* ---------------------------------- archival ---------------------------------- */

type underwritingPayload struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

// archiveOutcomes records any underwriting decision reached during this
// turn. Failures are logged and never surfaced to the customer.
func (s *Service) archiveOutcomes(ctx context.Context, customerID string, msgs []contractx.Message) {
	if s.archiver == nil {
		return
	}
	requests := map[string]contractx.CapabilityCall{}
	for _, msg := range msgs {
		switch msg.Kind {
		case contractx.KindCapabilityRequest:
			if msg.Request != nil {
				requests[msg.Request.ID] = *msg.Request
			}
		case contractx.KindCapabilityResult:
			if msg.Result == nil || msg.Result.Name != capabilityx.NameUnderwriting || msg.Result.Failed() {
				continue
			}
			var payload underwritingPayload
			if err := json.Unmarshal(msg.Result.Payload, &payload); err != nil {
				log.Warn().Err(err).Str("customer_id", customerID).Msg("unreadable underwriting payload, skipping archive")
				continue
			}
			record := contractx.ApplicationRecord{
				CustomerID: customerID,
				LoanID:     uuid.NewString(),
				Status:     payload.Status,
				Reason:     payload.Reason,
			}
			if request, ok := requests[msg.Result.RequestID]; ok {
				record.Amount = int64Arg(request.Arguments, "requested_loan_amount")
				record.InterestRate = floatArg(request.Arguments, "interest_rate")
				record.TenureMonths = int(int64Arg(request.Arguments, "loan_tenure_months"))
			}
			if err := s.archiver.Archive(ctx, record); err != nil {
				log.Warn().Err(err).Str("customer_id", customerID).Str("loan_id", record.LoanID).Msg("archive failed")
			}
		}
	}
}

func int64Arg(args map[string]any, key string) int64 {
	switch v := args[key].(type) {
	case float64:
		return int64(v)
	case int:
		return int64(v)
	case int64:
		return v
	case json.Number:
		n, _ := v.Int64()
		return n
	}
	return 0
}

func floatArg(args map[string]any, key string) float64 {
	switch v := args[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case json.Number:
		f, _ := v.Float64()
		return f
	}
	return 0
}
