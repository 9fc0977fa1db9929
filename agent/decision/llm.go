// Package decision maps a conversation history to the next set of
// capability invocations (or a final reply) by calling a chat model
// with function-calling enabled.
package decision

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"
	"github.com/rs/zerolog/log"

	capabilityx "github.com/finserve-labs/loanflow/agent/capability"
	contractx "github.com/finserve-labs/loanflow/agent/contract"
)

//go:embed template/policy.txt
var policyText string

// PolicyText returns the behavioral policy the agent operates under. The
// orchestrator injects it into the first customer message of every
// conversation.
func PolicyText() string {
	return strings.TrimSpace(policyText)
}

/* ---------------------------------- Decider ---------------------------------- */

// Decider implements contract.Decider on top of an OpenAI-compatible
// chat completion endpoint.
type Decider struct {
	client      *openaisdk.Client
	registry    *capabilityx.Registry
	model       string
	temperature float64
	maxTokens   int64
}

// New builds a Decider. The client and registry are required.
func New(client *openaisdk.Client, registry *capabilityx.Registry, model string, temperature float64, maxTokens int64) (*Decider, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: nil chat client", contractx.ErrValidation)
	}
	if registry == nil {
		return nil, fmt.Errorf("%w: nil capability registry", contractx.ErrValidation)
	}
	if model == "" {
		return nil, fmt.Errorf("%w: empty model name", contractx.ErrValidation)
	}
	return &Decider{
		client:      client,
		registry:    registry,
		model:       model,
		temperature: temperature,
		maxTokens:   maxTokens,
	}, nil
}

// Decide sends the full conversation to the model and translates the
// response into a Decision. A response with tool calls becomes a set of
// capability requests; a plain text response ends the turn.
func (d *Decider) Decide(ctx context.Context, req contractx.DecisionRequest) (contractx.Decision, error) {
	messages, err := toChatMessages(req.History)
	if err != nil {
		return contractx.Decision{}, err
	}

	params := openaisdk.ChatCompletionNewParams{
		Model:       shared.ChatModel(d.model),
		Messages:    messages,
		Temperature: openaisdk.Float(d.temperature),
	}
	if d.maxTokens > 0 {
		params.MaxCompletionTokens = openaisdk.Int(d.maxTokens)
	}
	if !req.DisableCapabilities {
		params.Tools = toolParams(d.registry.Descriptors())
	}

	completion, err := d.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return contractx.Decision{}, fmt.Errorf("%w: chat completion: %v", contractx.ErrModelInvoke, err)
	}
	if len(completion.Choices) == 0 {
		return contractx.Decision{}, fmt.Errorf("%w: completion returned no choices", contractx.ErrModelInvoke)
	}

	choice := completion.Choices[0].Message
	decision := contractx.Decision{Reply: strings.TrimSpace(choice.Content)}

	for _, call := range choice.ToolCalls {
		request, err := parseToolCall(call)
		if err != nil {
			return contractx.Decision{}, err
		}
		decision.Requests = append(decision.Requests, request)
	}

	if decision.Terminal() && decision.Reply == "" {
		return contractx.Decision{}, fmt.Errorf("%w: empty reply and no capability requests", contractx.ErrSchemaViolation)
	}

	log.Debug().
		Str("conversation_id", req.ConversationID).
		Int("requests", len(decision.Requests)).
		Bool("terminal", decision.Terminal()).
		Msg("decision produced")
	return decision, nil
}

func parseToolCall(call openaisdk.ChatCompletionMessageToolCall) (contractx.CapabilityCall, error) {
	args := map[string]any{}
	if raw := strings.TrimSpace(call.Function.Arguments); raw != "" {
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			return contractx.CapabilityCall{}, fmt.Errorf("%w: arguments for %q are not a JSON object: %v",
				contractx.ErrSchemaViolation, call.Function.Name, err)
		}
	}
	id := call.ID
	if id == "" {
		id = uuid.NewString()
	}
	return contractx.CapabilityCall{
		ID:        id,
		Name:      call.Function.Name,
		Arguments: args,
	}, nil
}

/* ------------------------------ message building ------------------------------ */

// toChatMessages converts the stored history into the wire shape the chat
// API expects. Capability requests become assistant tool-call messages and
// capability results become tool messages tied back by request id.
func toChatMessages(history []contractx.Message) ([]openaisdk.ChatCompletionMessageParamUnion, error) {
	out := make([]openaisdk.ChatCompletionMessageParamUnion, 0, len(history))
	for _, msg := range history {
		switch msg.Kind {
		case contractx.KindUserText:
			out = append(out, openaisdk.UserMessage(msg.Text))
		case contractx.KindAgentText:
			out = append(out, openaisdk.AssistantMessage(msg.Text))
		case contractx.KindCapabilityRequest:
			if msg.Request == nil {
				return nil, fmt.Errorf("%w: capability request message without a request", contractx.ErrValidation)
			}
			out = append(out, assistantToolCall(*msg.Request))
		case contractx.KindCapabilityResult:
			if msg.Result == nil {
				return nil, fmt.Errorf("%w: capability result message without a result", contractx.ErrValidation)
			}
			out = append(out, openaisdk.ToolMessage(resultContent(*msg.Result), msg.Result.RequestID))
		default:
			return nil, fmt.Errorf("%w: unknown message kind %q", contractx.ErrValidation, msg.Kind)
		}
	}
	return out, nil
}

func assistantToolCall(call contractx.CapabilityCall) openaisdk.ChatCompletionMessageParamUnion {
	args, err := json.Marshal(call.Arguments)
	if err != nil {
		args = []byte("{}")
	}
	assistant := openaisdk.ChatCompletionAssistantMessageParam{
		ToolCalls: []openaisdk.ChatCompletionMessageToolCallParam{
			{
				ID:   call.ID,
				Type: "function",
				Function: openaisdk.ChatCompletionMessageToolCallFunctionParam{
					Name:      call.Name,
					Arguments: string(args),
				},
			},
		},
	}
	return openaisdk.ChatCompletionMessageParamUnion{OfAssistant: &assistant}
}

// resultContent renders a capability outcome for the model. Failures are
// reported as a structured error object so the model can react without
// seeing transport detail.
func resultContent(outcome contractx.CapabilityOutcome) string {
	if outcome.Failed() {
		encoded, err := json.Marshal(map[string]string{"error": outcome.Error})
		if err != nil {
			return `{"error":"capability failed"}`
		}
		return string(encoded)
	}
	if len(outcome.Payload) == 0 {
		return "{}"
	}
	return string(outcome.Payload)
}

/* -------------------------------- tool schemas -------------------------------- */

func toolParams(descriptors []*capabilityx.Descriptor) []openaisdk.ChatCompletionToolParam {
	tools := make([]openaisdk.ChatCompletionToolParam, 0, len(descriptors))
	for _, desc := range descriptors {
		properties := map[string]interface{}{}
		required := make([]string, 0, len(desc.Params))
		for _, p := range desc.Params {
			properties[p.Name] = map[string]interface{}{
				"type":        string(p.Type),
				"description": p.Desc,
			}
			if p.Required {
				required = append(required, p.Name)
			}
		}
		tools = append(tools, openaisdk.ChatCompletionToolParam{
			Type: "function",
			Function: shared.FunctionDefinitionParam{
				Name:        desc.Name,
				Description: param.NewOpt(desc.Desc),
				Parameters: shared.FunctionParameters{
					"type":       "object",
					"properties": properties,
					"required":   required,
				},
			},
		})
	}
	return tools
}
