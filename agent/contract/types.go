package contract

import (
	"encoding/json"
	"time"
)

// MessageKind tags the variants of a conversation Message.
type MessageKind string

const (
	KindUserText          MessageKind = "user_text"
	KindAgentText         MessageKind = "agent_text"
	KindCapabilityRequest MessageKind = "capability_request"
	KindCapabilityResult  MessageKind = "capability_result"
)

// Message is one entry in a conversation history. Exactly one of the
// variant fields is set, selected by Kind: Text for user/agent text,
// Request for capability_request, Result for capability_result.
type Message struct {
	Kind    MessageKind        `json:"kind"`
	Text    string             `json:"text,omitempty"`
	Request *CapabilityCall    `json:"request,omitempty"`
	Result  *CapabilityOutcome `json:"result,omitempty"`
	At      time.Time          `json:"at"`
}

// CapabilityCall is a decided invocation of one named capability with
// concrete argument values.
type CapabilityCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// CapabilityOutcome is the observation appended after executing a
// CapabilityCall. Payload carries the downstream response on success;
// Error carries a structured summary on failure. Exactly one is set.
type CapabilityOutcome struct {
	RequestID string          `json:"request_id"`
	Name      string          `json:"name"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// Failed reports whether the outcome is an error observation.
func (o *CapabilityOutcome) Failed() bool {
	return o != nil && o.Error != ""
}

// UserText builds a user message stamped at now.
func UserText(text string, now time.Time) Message {
	return Message{Kind: KindUserText, Text: text, At: now.UTC()}
}

// AgentText builds a terminal assistant reply stamped at now.
func AgentText(text string, now time.Time) Message {
	return Message{Kind: KindAgentText, Text: text, At: now.UTC()}
}

// RequestMessage wraps a capability call as a history entry.
func RequestMessage(call CapabilityCall, now time.Time) Message {
	c := call
	return Message{Kind: KindCapabilityRequest, Request: &c, At: now.UTC()}
}

// ResultMessage wraps a capability outcome as a history entry.
func ResultMessage(outcome CapabilityOutcome, now time.Time) Message {
	o := outcome
	return Message{Kind: KindCapabilityResult, Result: &o, At: now.UTC()}
}

// DecisionRequest is the input to one Decision Function step: the full
// ordered history plus the conversation identity. DisableCapabilities is the
// degraded retry mode in which the decider must answer without requesting
// any capability.
type DecisionRequest struct {
	ConversationID      string    `json:"conversation_id"`
	History             []Message `json:"history"`
	DisableCapabilities bool      `json:"disable_capabilities,omitempty"`
}

// Decision is the output of one Decision Function step: either a terminal
// reply (Requests empty) or one or more capability calls to execute before
// the next step.
type Decision struct {
	Reply    string           `json:"reply,omitempty"`
	Requests []CapabilityCall `json:"requests,omitempty"`
}

// Terminal reports whether the decision ends the turn.
func (d Decision) Terminal() bool {
	return len(d.Requests) == 0
}

// ApplicationRecord is the archival payload pushed after a terminal
// underwriting outcome. Best-effort; the turn never depends on it.
type ApplicationRecord struct {
	CustomerID   string  `json:"customer_id"`
	LoanID       string  `json:"loan_id"`
	Status       string  `json:"status"`
	Amount       int64   `json:"amount"`
	InterestRate float64 `json:"interest_rate"`
	TenureMonths int     `json:"tenure_months"`
	Reason       string  `json:"reason,omitempty"`
}
