// Package sanction renders and stores sanction letters for approved
// loans.
package sanction

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	contractx "github.com/finserve-labs/loanflow/agent/contract"
	"github.com/finserve-labs/loanflow/services/underwrite"
	"github.com/finserve-labs/loanflow/services/upstream"
)

//go:embed template/letter.txt
var letterTemplate string

// Config holds the sanction service settings.
type Config struct {
	Addr        string        `split_words:"true" default:"127.0.0.1:8004"`
	MockdataURL string        `split_words:"true" default:"http://127.0.0.1:8010"`
	OutputDir   string        `split_words:"true" default:"sanction_letters"`
	Timeout     time.Duration `split_words:"true" default:"10s"`
}

// Service renders letters into the output directory.
type Service struct {
	crm       *upstream.Client
	outputDir string
	tmpl      *template.Template
}

func New(cfg Config) (*Service, error) {
	crm, err := upstream.NewClient(cfg.MockdataURL, cfg.Timeout)
	if err != nil {
		return nil, err
	}
	tmpl, err := template.New("letter").Parse(letterTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse letter template: %w", err)
	}
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	return &Service{crm: crm, outputDir: cfg.OutputDir, tmpl: tmpl}, nil
}

func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /sanction", s.handleSanction)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return mux
}

type sanctionRequest struct {
	CustomerID   string  `json:"customer_id"`
	LoanAmount   int64   `json:"loan_amount"`
	InterestRate float64 `json:"interest_rate"`
	TenureMonths int     `json:"tenure_months"`
}

type sanctionResponse struct {
	FilePath string `json:"file_path"`
	Message  string `json:"message"`
}

type crmProfile struct {
	CustomerID string `json:"customer_id"`
	Name       string `json:"name"`
}

type letterFields struct {
	Date         string
	Reference    string
	Name         string
	CustomerID   string
	LoanAmount   int64
	InterestRate float64
	TenureMonths int
	EMI          float64
}

func (s *Service) handleSanction(w http.ResponseWriter, r *http.Request) {
	var req sanctionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.CustomerID) == "" {
		writeError(w, http.StatusBadRequest, "customer_id is required")
		return
	}
	if req.LoanAmount <= 0 || req.TenureMonths <= 0 {
		writeError(w, http.StatusBadRequest, "loan_amount and tenure_months must be positive")
		return
	}

	var profile crmProfile
	err := s.crm.GetJSON(r.Context(), "/crm/"+url.PathEscape(req.CustomerID), nil, &profile)
	switch {
	case errors.Is(err, contractx.ErrNotFound):
		writeError(w, http.StatusNotFound, "customer not found")
		return
	case err != nil:
		log.Error().Err(err).Str("customer_id", req.CustomerID).Msg("crm lookup failed")
		writeError(w, http.StatusBadGateway, "crm unavailable")
		return
	}

	reference := uuid.NewString()
	fields := letterFields{
		Date:         time.Now().UTC().Format("02 Jan 2006"),
		Reference:    reference,
		Name:         profile.Name,
		CustomerID:   req.CustomerID,
		LoanAmount:   req.LoanAmount,
		InterestRate: req.InterestRate,
		TenureMonths: req.TenureMonths,
		EMI:          underwrite.MonthlyInstallment(float64(req.LoanAmount), req.InterestRate, req.TenureMonths),
	}

	var buf bytes.Buffer
	if err := s.tmpl.Execute(&buf, fields); err != nil {
		log.Error().Err(err).Str("customer_id", req.CustomerID).Msg("render letter")
		writeError(w, http.StatusInternalServerError, "could not render letter")
		return
	}

	filePath := filepath.Join(s.outputDir, fmt.Sprintf("sanction_%s_%s.txt", req.CustomerID, reference))
	if err := os.WriteFile(filePath, buf.Bytes(), 0o644); err != nil {
		log.Error().Err(err).Str("path", filePath).Msg("write letter")
		writeError(w, http.StatusInternalServerError, "could not store letter")
		return
	}

	log.Info().Str("customer_id", req.CustomerID).Str("path", filePath).Msg("sanction letter issued")
	writeJSON(w, http.StatusOK, sanctionResponse{
		FilePath: filePath,
		Message:  "sanction letter generated",
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
