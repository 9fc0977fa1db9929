// Package kyc verifies customer identity against the CRM record.
package kyc

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

const (
	StatusVerified = "verified"
	StatusFailed   = "failed"
)

// Config holds the KYC service settings.
type Config struct {
	Addr        string        `split_words:"true" default:"127.0.0.1:8002"`
	MockdataURL string        `split_words:"true" default:"http://127.0.0.1:8010"`
	Timeout     time.Duration `split_words:"true" default:"10s"`
}

// Service checks the CRM for the customer profile.
type Service struct {
	crm *upstream.Client
}

func New(cfg Config) (*Service, error) {
	crm, err := upstream.NewClient(cfg.MockdataURL, cfg.Timeout)
	if err != nil {
		return nil, err
	}
	return &Service{crm: crm}, nil
}

func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /verify", s.handleVerify)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return mux
}

type verifyRequest struct {
	CustomerID string `json:"customer_id"`
}

type verifyResponse struct {
	Status  string            `json:"status"`
	Reason  string            `json:"reason,omitempty"`
	Details map[string]string `json:"kyc_details,omitempty"`
}

type crmProfile struct {
	CustomerID string `json:"customer_id"`
	Name       string `json:"name"`
	Address    string `json:"address"`
	PAN        string `json:"pan"`
}

func (s *Service) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.CustomerID) == "" {
		writeError(w, http.StatusBadRequest, "customer_id is required")
		return
	}

	var profile crmProfile
	err := s.crm.GetJSON(r.Context(), "/crm/"+url.PathEscape(req.CustomerID), nil, &profile)
	switch {
	case errors.Is(err, contractx.ErrNotFound):
		writeJSON(w, http.StatusOK, verifyResponse{
			Status: StatusFailed,
			Reason: "no CRM record found for this customer",
		})
		return
	case err != nil:
		log.Error().Err(err).Str("customer_id", req.CustomerID).Msg("crm lookup failed")
		writeError(w, http.StatusBadGateway, "crm unavailable")
		return
	}

	writeJSON(w, http.StatusOK, verifyResponse{
		Status: StatusVerified,
		Details: map[string]string{
			"name":    profile.Name,
			"address": profile.Address,
			"pan":     profile.PAN,
		},
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
