package decision

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	capabilityx "github.com/finserve-labs/loanflow/agent/capability"
	contractx "github.com/finserve-labs/loanflow/agent/contract"
)

// fakeCompletions serves canned chat completion responses and records the
// request bodies it receives.
type fakeCompletions struct {
	mu        sync.Mutex
	responses []string
	status    int
	calls     int
	bodies    []map[string]any
}

func (f *fakeCompletions) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		raw, _ := io.ReadAll(r.Body)
		var body map[string]any
		_ = json.Unmarshal(raw, &body)
		f.bodies = append(f.bodies, body)

		i := f.calls
		f.calls++
		if f.status != 0 {
			http.Error(w, `{"error":{"message":"boom"}}`, f.status)
			return
		}
		resp := f.responses[len(f.responses)-1]
		if i < len(f.responses) {
			resp = f.responses[i]
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(resp))
	})
}

func textCompletion(content string) string {
	encoded, _ := json.Marshal(content)
	return `{"id":"cmpl-1","object":"chat.completion","choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":` + string(encoded) + `}}]}`
}

const toolCompletion = `{"id":"cmpl-2","object":"chat.completion","choices":[{"index":0,"finish_reason":"tool_calls","message":{"role":"assistant","content":"","tool_calls":[{"id":"call_1","type":"function","function":{"name":"offer.lookup","arguments":"{\"customer_id\":\"CUST1001\"}"}}]}}]}`

func newTestDecider(t *testing.T, fake *fakeCompletions) *Decider {
	t.Helper()
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)

	client := openaisdk.NewClient(
		option.WithAPIKey("test-key"),
		option.WithBaseURL(srv.URL),
		option.WithRequestTimeout(5*time.Second),
		option.WithMaxRetries(0),
	)

	clients, err := capabilityx.NewClients(capabilityx.ClientConfig{
		OfferURL:        "http://127.0.0.1:8001/sales",
		KYCURL:          "http://127.0.0.1:8002/verify",
		UnderwritingURL: "http://127.0.0.1:8003/underwrite",
		SanctionURL:     "http://127.0.0.1:8004/sanction",
	})
	if err != nil {
		t.Fatalf("NewClients: %v", err)
	}

	decider, err := New(&client, capabilityx.NewRegistry(clients), "test-model", 0.3, 2000)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return decider
}

func sampleHistory() []contractx.Message {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return []contractx.Message{
		contractx.UserText("hi, I need a loan", now),
		contractx.RequestMessage(contractx.CapabilityCall{
			ID:        "call_0",
			Name:      capabilityx.NameOfferLookup,
			Arguments: map[string]any{"customer_id": "CUST1001"},
		}, now),
		contractx.ResultMessage(contractx.CapabilityOutcome{
			RequestID: "call_0",
			Name:      capabilityx.NameOfferLookup,
			Payload:   json.RawMessage(`{"pre_approved_limit":500000}`),
		}, now),
	}
}

func TestDecideTerminalReply(t *testing.T) {
	t.Parallel()

	fake := &fakeCompletions{responses: []string{textCompletion("You are pre-approved for 500000.")}}
	decider := newTestDecider(t, fake)

	decision, err := decider.Decide(context.Background(), contractx.DecisionRequest{
		ConversationID: "CUST1001",
		History:        sampleHistory(),
	})
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if !decision.Terminal() {
		t.Fatal("expected a terminal decision")
	}
	if decision.Reply != "You are pre-approved for 500000." {
		t.Fatalf("unexpected reply: %q", decision.Reply)
	}
}

func TestDecideParsesToolCalls(t *testing.T) {
	t.Parallel()

	fake := &fakeCompletions{responses: []string{toolCompletion}}
	decider := newTestDecider(t, fake)

	decision, err := decider.Decide(context.Background(), contractx.DecisionRequest{
		ConversationID: "CUST1001",
		History:        []contractx.Message{contractx.UserText("hi", time.Now().UTC())},
	})
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if decision.Terminal() {
		t.Fatal("expected capability requests")
	}
	if len(decision.Requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(decision.Requests))
	}
	req := decision.Requests[0]
	if req.ID != "call_1" || req.Name != capabilityx.NameOfferLookup {
		t.Fatalf("unexpected request: %+v", req)
	}
	if req.Arguments["customer_id"] != "CUST1001" {
		t.Fatalf("arguments not parsed: %+v", req.Arguments)
	}
}

func TestDecideSendsToolSchemas(t *testing.T) {
	t.Parallel()

	fake := &fakeCompletions{responses: []string{textCompletion("ok")}}
	decider := newTestDecider(t, fake)

	if _, err := decider.Decide(context.Background(), contractx.DecisionRequest{
		ConversationID: "CUST1001",
		History:        sampleHistory(),
	}); err != nil {
		t.Fatalf("Decide: %v", err)
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	body := fake.bodies[0]
	tools, ok := body["tools"].([]any)
	if !ok || len(tools) != 4 {
		t.Fatalf("expected 4 tool schemas, got %v", body["tools"])
	}

	messages, _ := body["messages"].([]any)
	if len(messages) != 3 {
		t.Fatalf("expected 3 wire messages, got %d", len(messages))
	}
	toolMsg, _ := messages[2].(map[string]any)
	if toolMsg["role"] != "tool" || toolMsg["tool_call_id"] != "call_0" {
		t.Fatalf("capability result not sent as tool message: %v", toolMsg)
	}
}

func TestDecideDisableCapabilitiesOmitsTools(t *testing.T) {
	t.Parallel()

	fake := &fakeCompletions{responses: []string{textCompletion("plain answer")}}
	decider := newTestDecider(t, fake)

	if _, err := decider.Decide(context.Background(), contractx.DecisionRequest{
		ConversationID:      "CUST1001",
		History:             sampleHistory(),
		DisableCapabilities: true,
	}); err != nil {
		t.Fatalf("Decide: %v", err)
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if _, present := fake.bodies[0]["tools"]; present {
		t.Fatal("tools must be omitted when capabilities are disabled")
	}
}

func TestDecideModelFailure(t *testing.T) {
	t.Parallel()

	fake := &fakeCompletions{status: http.StatusInternalServerError}
	decider := newTestDecider(t, fake)

	_, err := decider.Decide(context.Background(), contractx.DecisionRequest{
		ConversationID: "CUST1001",
		History:        sampleHistory(),
	})
	if !errors.Is(err, contractx.ErrModelInvoke) {
		t.Fatalf("expected ErrModelInvoke, got %v", err)
	}
}

func TestDecideEmptyResponseIsSchemaViolation(t *testing.T) {
	t.Parallel()

	fake := &fakeCompletions{responses: []string{textCompletion("")}}
	decider := newTestDecider(t, fake)

	_, err := decider.Decide(context.Background(), contractx.DecisionRequest{
		ConversationID: "CUST1001",
		History:        sampleHistory(),
	})
	if !errors.Is(err, contractx.ErrSchemaViolation) {
		t.Fatalf("expected ErrSchemaViolation, got %v", err)
	}
}

func TestDecideMalformedToolArguments(t *testing.T) {
	t.Parallel()

	bad := `{"id":"cmpl-3","object":"chat.completion","choices":[{"index":0,"finish_reason":"tool_calls","message":{"role":"assistant","content":"","tool_calls":[{"id":"call_9","type":"function","function":{"name":"offer.lookup","arguments":"not json"}}]}}]}`
	fake := &fakeCompletions{responses: []string{bad}}
	decider := newTestDecider(t, fake)

	_, err := decider.Decide(context.Background(), contractx.DecisionRequest{
		ConversationID: "CUST1001",
		History:        sampleHistory(),
	})
	if !errors.Is(err, contractx.ErrSchemaViolation) {
		t.Fatalf("expected ErrSchemaViolation, got %v", err)
	}
}

func TestPolicyTextNonEmpty(t *testing.T) {
	t.Parallel()

	policy := PolicyText()
	if policy == "" {
		t.Fatal("policy text must not be empty")
	}
	for _, needle := range []string{"offer.lookup", "kyc.verify", "underwriting.evaluate", "sanction.generate"} {
		if !strings.Contains(policy, needle) {
			t.Fatalf("policy must mention %s", needle)
		}
	}
}
