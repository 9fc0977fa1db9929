// Package mockdata serves the synthetic customer records the capability
// services consult: CRM profiles, bureau credit scores and pre-approved
// offers.
package mockdata

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

//go:embed data/customers.json
var customersJSON []byte

// Config holds the mock data listener settings.
type Config struct {
	Addr         string        `split_words:"true" default:"127.0.0.1:8010"`
	ReadTimeout  time.Duration `split_words:"true" default:"10s"`
	WriteTimeout time.Duration `split_words:"true" default:"10s"`
}

type customer struct {
	CustomerID       string   `json:"customer_id"`
	Name             string   `json:"name"`
	Address          string   `json:"address"`
	PAN              string   `json:"pan"`
	CreditScore      int      `json:"credit_score"`
	PreApprovedLimit int64    `json:"pre_approved_limit"`
	InterestOptions  []string `json:"interest_options"`
}

// Service answers CRM, credit score and offer lookups from an in-memory
// snapshot.
type Service struct {
	customers map[string]customer
}

// New loads the embedded snapshot.
func New() (*Service, error) {
	var records []customer
	if err := json.Unmarshal(customersJSON, &records); err != nil {
		return nil, fmt.Errorf("decode customer snapshot: %w", err)
	}
	byID := make(map[string]customer, len(records))
	for _, c := range records {
		byID[c.CustomerID] = c
	}
	return &Service{customers: byID}, nil
}

// Handler builds the route table.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /crm/{customerID}", s.handleCRM)
	mux.HandleFunc("GET /credit_score", s.handleCreditScore)
	mux.HandleFunc("GET /offers", s.handleOffers)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return mux
}

func (s *Service) handleCRM(w http.ResponseWriter, r *http.Request) {
	c, ok := s.customers[r.PathValue("customerID")]
	if !ok {
		writeError(w, http.StatusNotFound, "customer not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"customer_id": c.CustomerID,
		"name":        c.Name,
		"address":     c.Address,
		"pan":         c.PAN,
	})
}

func (s *Service) handleCreditScore(w http.ResponseWriter, r *http.Request) {
	c, ok := s.customers[r.URL.Query().Get("cust_id")]
	if !ok {
		writeError(w, http.StatusNotFound, "customer not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"customer_id":  c.CustomerID,
		"credit_score": c.CreditScore,
	})
}

func (s *Service) handleOffers(w http.ResponseWriter, r *http.Request) {
	c, ok := s.customers[r.URL.Query().Get("cust_id")]
	if !ok {
		writeError(w, http.StatusNotFound, "no offer on file")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"customer_id":        c.CustomerID,
		"pre_approved_limit": c.PreApprovedLimit,
		"interest_options":   c.InterestOptions,
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
