// Package server exposes the loan agent over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	contractx "github.com/finserve-labs/loanflow/agent/contract"
	"github.com/finserve-labs/loanflow/agent/orchestrator"
)

// Config holds the HTTP listener settings.
type Config struct {
	Addr            string        `split_words:"true" default:"127.0.0.1:8000"`
	ReadTimeout     time.Duration `split_words:"true" default:"30s"`
	WriteTimeout    time.Duration `split_words:"true" default:"120s"`
	ShutdownTimeout time.Duration `split_words:"true" default:"10s"`
}

// Server routes chat traffic to the orchestrator.
type Server struct {
	cfg        Config
	svc        *orchestrator.Service
	httpServer *http.Server
}

func New(cfg Config, svc *orchestrator.Service) (*Server, error) {
	if svc == nil {
		return nil, fmt.Errorf("%w: nil orchestrator service", contractx.ErrValidation)
	}
	return &Server{cfg: cfg, svc: svc}, nil
}

// Handler builds the route table. Exposed separately so tests can drive
// the mux without a listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /chat", s.handleChat)
	mux.HandleFunc("GET /reset/{customerID}", s.handleReset)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	return mux
}

// Start listens and serves until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Addr, err)
	}

	s.httpServer = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		log.Info().Msg("shutting down chat server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", ln.Addr().String()).Msg("chat server ready")
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

/* ---------------------------------- handlers ---------------------------------- */

type chatRequest struct {
	CustomerID string `json:"customer_id"`
	Message    string `json:"message"`
}

type chatResponse struct {
	Reply string `json:"reply"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "request body must be JSON")
		return
	}
	if strings.TrimSpace(req.CustomerID) == "" || strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "customer_id and message are required")
		return
	}

	reply, err := s.svc.ChatTurn(r.Context(), req.CustomerID, req.Message)
	if err != nil {
		if errors.Is(err, contractx.ErrValidation) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		// Internal detail stays in the logs.
		log.Error().Err(err).Str("customer_id", req.CustomerID).Msg("chat turn failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, chatResponse{Reply: reply})
}

type resetResponse struct {
	Message string `json:"message"`
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	customerID := r.PathValue("customerID")

	existed, err := s.svc.Reset(r.Context(), customerID)
	if err != nil {
		if errors.Is(err, contractx.ErrValidation) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		log.Error().Err(err).Str("customer_id", customerID).Msg("reset failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	msg := fmt.Sprintf("no conversation found for %s", customerID)
	if existed {
		msg = fmt.Sprintf("conversation for %s cleared", customerID)
	}
	writeJSON(w, http.StatusOK, resetResponse{Message: msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

/* ----------------------------------- helpers ----------------------------------- */

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
