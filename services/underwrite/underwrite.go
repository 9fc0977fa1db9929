// Package underwrite applies the credit policy to a loan request and
// returns an approve or reject decision with a reason.
package underwrite

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	contractx "github.com/finserve-labs/loanflow/agent/contract"
	"github.com/finserve-labs/loanflow/services/upstream"
)

const (
	StatusApproved = "approved"
	StatusRejected = "rejected"

	minCreditScore  = 700
	maxIncomeShare  = 0.5
	defaultTenure   = 36
	defaultInterest = 12.5
)

// Config holds the underwriting service settings.
type Config struct {
	Addr        string        `split_words:"true" default:"127.0.0.1:8003"`
	MockdataURL string        `split_words:"true" default:"http://127.0.0.1:8010"`
	Timeout     time.Duration `split_words:"true" default:"10s"`
}

// Service evaluates loan requests against the bureau score and the
// affordability rules.
type Service struct {
	bureau *upstream.Client
}

func New(cfg Config) (*Service, error) {
	bureau, err := upstream.NewClient(cfg.MockdataURL, cfg.Timeout)
	if err != nil {
		return nil, err
	}
	return &Service{bureau: bureau}, nil
}

func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /underwrite", s.handleUnderwrite)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return mux
}

type underwriteRequest struct {
	CustomerID       string  `json:"customer_id"`
	RequestedAmount  int64   `json:"requested_loan_amount"`
	PreApprovedLimit int64   `json:"pre_approved_limit"`
	MonthlySalary    int64   `json:"monthly_salary"`
	InterestRate     float64 `json:"interest_rate"`
	TenureMonths     int     `json:"loan_tenure_months"`
}

type underwriteResponse struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

type bureauScore struct {
	CustomerID  string `json:"customer_id"`
	CreditScore int    `json:"credit_score"`
}

func (s *Service) handleUnderwrite(w http.ResponseWriter, r *http.Request) {
	var req underwriteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.CustomerID) == "" {
		writeError(w, http.StatusBadRequest, "customer_id is required")
		return
	}
	if req.RequestedAmount <= 0 || req.PreApprovedLimit <= 0 {
		writeError(w, http.StatusBadRequest, "requested_loan_amount and pre_approved_limit must be positive")
		return
	}

	var score bureauScore
	err := s.bureau.GetJSON(r.Context(), "/credit_score", url.Values{"cust_id": {req.CustomerID}}, &score)
	switch {
	case errors.Is(err, contractx.ErrNotFound):
		writeJSON(w, http.StatusOK, underwriteResponse{
			Status: StatusRejected,
			Reason: "no credit history found for this customer",
		})
		return
	case err != nil:
		log.Error().Err(err).Str("customer_id", req.CustomerID).Msg("credit bureau lookup failed")
		writeError(w, http.StatusBadGateway, "credit bureau unavailable")
		return
	}

	status, reason := Evaluate(score.CreditScore, req)
	log.Info().
		Str("customer_id", req.CustomerID).
		Int64("amount", req.RequestedAmount).
		Str("status", status).
		Msg("underwriting decision")
	writeJSON(w, http.StatusOK, underwriteResponse{Status: status, Reason: reason})
}

/* -------------------------------- credit policy -------------------------------- */

// Evaluate applies the credit policy in order: bureau score, limit
// multiples, then affordability for amounts above the pre-approved limit.
func Evaluate(creditScore int, req underwriteRequest) (status, reason string) {
	if creditScore < minCreditScore {
		return StatusRejected, fmt.Sprintf("credit score %d is below the required %d", creditScore, minCreditScore)
	}
	if req.RequestedAmount > 2*req.PreApprovedLimit {
		return StatusRejected, "requested amount exceeds twice the pre-approved limit"
	}
	if req.RequestedAmount <= req.PreApprovedLimit {
		return StatusApproved, "amount is within the pre-approved limit"
	}

	// Between 1x and 2x the limit: income proof decides.
	if req.MonthlySalary <= 0 {
		return StatusRejected, "monthly salary is required for amounts above the pre-approved limit"
	}
	rate := req.InterestRate
	if rate <= 0 {
		rate = defaultInterest
	}
	tenure := req.TenureMonths
	if tenure <= 0 {
		tenure = defaultTenure
	}
	emi := MonthlyInstallment(float64(req.RequestedAmount), rate, tenure)
	if emi > maxIncomeShare*float64(req.MonthlySalary) {
		return StatusRejected, fmt.Sprintf("monthly installment %.0f exceeds half the stated salary", emi)
	}
	return StatusApproved, fmt.Sprintf("monthly installment %.0f fits within the stated salary", emi)
}

// MonthlyInstallment computes the standard amortized installment for a
// principal at an annual percentage rate over the given number of months.
func MonthlyInstallment(principal, annualRatePercent float64, months int) float64 {
	r := annualRatePercent / (12 * 100)
	if r == 0 {
		return principal / float64(months)
	}
	factor := math.Pow(1+r, float64(months))
	return principal * r * factor / (factor - 1)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Warn().Err(err).Msg("write response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
