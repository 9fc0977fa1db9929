// Package capability defines the four downstream business operations the
// orchestrator can invoke: typed HTTP clients plus the static registry that
// names them, describes their argument schemas, and validates calls.
package capability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	contractx "github.com/finserve-labs/loanflow/agent/contract"
)

const maxResponseSizeBytes = 1 << 20

// ClientConfig locates the four downstream agent services.
type ClientConfig struct {
	OfferURL        string        `envconfig:"OFFER_URL" split_words:"true" default:"http://127.0.0.1:8001/sales"`
	KYCURL          string        `envconfig:"KYC_URL" split_words:"true" default:"http://127.0.0.1:8002/verify"`
	UnderwritingURL string        `envconfig:"UNDERWRITING_URL" split_words:"true" default:"http://127.0.0.1:8003/underwrite"`
	SanctionURL     string        `envconfig:"SANCTION_URL" split_words:"true" default:"http://127.0.0.1:8004/sanction"`
	Timeout         time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"15s"`
}

// Clients bundles one typed client per capability. Stateless; shared
// read-only across all conversations.
type Clients struct {
	Offer        *OfferClient
	KYC          *KYCClient
	Underwriting *UnderwritingClient
	Sanction     *SanctionClient
}

func NewClients(cfg ClientConfig) (*Clients, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	httpClient := &http.Client{Timeout: timeout}

	offer, err := newEndpoint(cfg.OfferURL, httpClient)
	if err != nil {
		return nil, fmt.Errorf("offer endpoint: %w", err)
	}
	kyc, err := newEndpoint(cfg.KYCURL, httpClient)
	if err != nil {
		return nil, fmt.Errorf("kyc endpoint: %w", err)
	}
	underwriting, err := newEndpoint(cfg.UnderwritingURL, httpClient)
	if err != nil {
		return nil, fmt.Errorf("underwriting endpoint: %w", err)
	}
	sanction, err := newEndpoint(cfg.SanctionURL, httpClient)
	if err != nil {
		return nil, fmt.Errorf("sanction endpoint: %w", err)
	}

	return &Clients{
		Offer:        &OfferClient{endpoint: offer},
		KYC:          &KYCClient{endpoint: kyc},
		Underwriting: &UnderwritingClient{endpoint: underwriting},
		Sanction:     &SanctionClient{endpoint: sanction},
	}, nil
}

type endpoint struct {
	url        string
	httpClient *http.Client
}

func newEndpoint(rawURL string, httpClient *http.Client) (*endpoint, error) {
	trimmed := strings.TrimSpace(rawURL)
	if trimmed == "" {
		return nil, errors.New("endpoint url is required")
	}
	if _, err := url.ParseRequestURI(trimmed); err != nil {
		return nil, fmt.Errorf("invalid endpoint url: %w", err)
	}
	return &endpoint{url: trimmed, httpClient: httpClient}, nil
}

// post sends the request body as JSON and decodes the response into out.
// A 404 maps to ErrNotFound, any other non-2xx status and transport errors
// map to ErrUnavailable.
func (e *endpoint) post(ctx context.Context, reqBody any, out any) error {
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", contractx.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSizeBytes))
	if err != nil {
		return fmt.Errorf("%w: read response: %v", contractx.ErrUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", contractx.ErrNotFound, summarizeBody(raw))
	case resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices:
		return fmt.Errorf("%w: status=%d %s", contractx.ErrUnavailable, resp.StatusCode, summarizeBody(raw))
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: decode response: %v", contractx.ErrUnavailable, err)
	}
	return nil
}

func summarizeBody(raw []byte) string {
	const max = 200
	s := strings.TrimSpace(string(raw))
	if len(s) > max {
		s = s[:max]
	}
	return s
}

/* ------------------------------ offer lookup ----------------------------- */

type OfferRequest struct {
	CustomerID string `json:"customer_id"`
}

type OfferResult struct {
	PreApprovedLimit int64    `json:"pre_approved_limit"`
	InterestOptions  []string `json:"interest_options"`
	Message          string   `json:"message,omitempty"`
}

type OfferClient struct {
	endpoint *endpoint
}

func (c *OfferClient) Lookup(ctx context.Context, req OfferRequest) (OfferResult, error) {
	var out OfferResult
	if err := c.endpoint.post(ctx, req, &out); err != nil {
		return OfferResult{}, err
	}
	return out, nil
}

/* ------------------------------- kyc verify ------------------------------ */

const (
	KYCVerified = "verified"
	KYCFailed   = "failed"
)

type KYCRequest struct {
	CustomerID string `json:"customer_id"`
}

type KYCResult struct {
	Status  string         `json:"status"`
	Reason  string         `json:"reason,omitempty"`
	Details map[string]any `json:"kyc_details,omitempty"`
}

type KYCClient struct {
	endpoint *endpoint
}

func (c *KYCClient) Verify(ctx context.Context, req KYCRequest) (KYCResult, error) {
	var out KYCResult
	if err := c.endpoint.post(ctx, req, &out); err != nil {
		return KYCResult{}, err
	}
	return out, nil
}

/* ------------------------------ underwriting ----------------------------- */

const (
	UnderwritingApproved = "approved"
	UnderwritingRejected = "rejected"
)

type UnderwritingRequest struct {
	CustomerID       string  `json:"customer_id"`
	RequestedAmount  int64   `json:"requested_loan_amount"`
	PreApprovedLimit int64   `json:"pre_approved_limit"`
	MonthlySalary    int64   `json:"monthly_salary"`
	InterestRate     float64 `json:"interest_rate"`
	TenureMonths     int     `json:"loan_tenure_months"`
}

type UnderwritingResult struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

type UnderwritingClient struct {
	endpoint *endpoint
}

func (c *UnderwritingClient) Evaluate(ctx context.Context, req UnderwritingRequest) (UnderwritingResult, error) {
	var out UnderwritingResult
	if err := c.endpoint.post(ctx, req, &out); err != nil {
		return UnderwritingResult{}, err
	}
	return out, nil
}

/* --------------------------- sanction generation ------------------------- */

type SanctionRequest struct {
	CustomerID   string  `json:"customer_id"`
	LoanAmount   int64   `json:"loan_amount"`
	InterestRate float64 `json:"interest_rate"`
	TenureMonths int     `json:"tenure_months"`
}

type SanctionResult struct {
	FilePath string `json:"file_path"`
	Message  string `json:"message,omitempty"`
}

type SanctionClient struct {
	endpoint *endpoint
}

func (c *SanctionClient) Generate(ctx context.Context, req SanctionRequest) (SanctionResult, error) {
	var out SanctionResult
	if err := c.endpoint.post(ctx, req, &out); err != nil {
		return SanctionResult{}, err
	}
	return out, nil
}
