// Package offer serves pre-approved loan offers. Customers without an
// offer on file receive the generic starter offer.
package offer

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	contractx "github.com/finserve-labs/loanflow/agent/contract"
	"github.com/finserve-labs/loanflow/services/upstream"
)

// The starter offer handed to customers with no record in the offer mart.
const (
	genericLimit = 25000
	genericRate  = "12.5% fixed"
)

// Config holds the offer service settings.
type Config struct {
	Addr        string        `split_words:"true" default:"127.0.0.1:8001"`
	MockdataURL string        `split_words:"true" default:"http://127.0.0.1:8010"`
	Timeout     time.Duration `split_words:"true" default:"10s"`
}

// Service looks up offers in the offer mart.
type Service struct {
	mart *upstream.Client
}

func New(cfg Config) (*Service, error) {
	mart, err := upstream.NewClient(cfg.MockdataURL, cfg.Timeout)
	if err != nil {
		return nil, err
	}
	return &Service{mart: mart}, nil
}

func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /sales", s.handleSales)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return mux
}

type salesRequest struct {
	CustomerID string `json:"customer_id"`
}

type salesResponse struct {
	PreApprovedLimit int64    `json:"pre_approved_limit"`
	InterestOptions  []string `json:"interest_options"`
	Message          string   `json:"message,omitempty"`
}

type martOffer struct {
	PreApprovedLimit int64    `json:"pre_approved_limit"`
	InterestOptions  []string `json:"interest_options"`
}

func (s *Service) handleSales(w http.ResponseWriter, r *http.Request) {
	var req salesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.CustomerID) == "" {
		writeError(w, http.StatusBadRequest, "customer_id is required")
		return
	}

	var offer martOffer
	err := s.mart.GetJSON(r.Context(), "/offers", url.Values{"cust_id": {req.CustomerID}}, &offer)
	switch {
	case errors.Is(err, contractx.ErrNotFound):
		// No tailored offer. Fall back to the starter offer.
		writeJSON(w, http.StatusOK, salesResponse{
			PreApprovedLimit: genericLimit,
			InterestOptions:  []string{genericRate},
			Message:          "no pre-approved offer on file, starter offer applies",
		})
		return
	case err != nil:
		log.Error().Err(err).Str("customer_id", req.CustomerID).Msg("offer mart lookup failed")
		writeError(w, http.StatusBadGateway, "offer mart unavailable")
		return
	}

	writeJSON(w, http.StatusOK, salesResponse{
		PreApprovedLimit: offer.PreApprovedLimit,
		InterestOptions:  offer.InterestOptions,
	})
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
