// Package api serves the decision HTTP surface: request submission, pool
// risk lookups, risk flagging by remote agents, and the audit log.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/spothive/spothive/pkg/audit"
	"github.com/spothive/spothive/pkg/config"
	"github.com/spothive/spothive/pkg/domain"
	"github.com/spothive/spothive/pkg/orchestrator"
	"github.com/spothive/spothive/pkg/pipeline"
	"github.com/spothive/spothive/pkg/risk"
)

// Server answers tenant-facing decision requests. Requests run on the
// orchestrator's pools; the handler waits for its own job so callers get a
// synchronous answer while concurrency limits still hold.
type Server struct {
	logger   *zap.Logger
	cfg      config.APIConfig
	pipe     *pipeline.Pipeline
	orch     *orchestrator.Orchestrator
	tracker  *risk.Tracker
	recorder *audit.Recorder
	srv      *http.Server
}

// New wires the routes and prepares the HTTP server.
func New(logger *zap.Logger, cfg config.APIConfig, pipe *pipeline.Pipeline, orch *orchestrator.Orchestrator, tracker *risk.Tracker, recorder *audit.Recorder) *Server {
	s := &Server{
		logger:   logger,
		cfg:      cfg,
		pipe:     pipe,
		orch:     orch,
		tracker:  tracker,
		recorder: recorder,
	}

	router := mux.NewRouter()
	v1 := router.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/decide", s.handleDecide).Methods(http.MethodPost)
	v1.HandleFunc("/risk/{region}/{zone}/{type}", s.handleRisk).Methods(http.MethodGet)
	v1.HandleFunc("/risk/{region}/{zone}/{type}/flag", s.handleFlag).Methods(http.MethodPost)
	v1.HandleFunc("/audit", s.handleAudit).Methods(http.MethodGet)

	s.srv = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}
	return s
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("API server listening", zap.String("addr", s.cfg.ListenAddr))
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// decideResponse is the wire form of a finished decision.
type decideResponse struct {
	RequestID string          `json:"request_id"`
	Decision  domain.Decision `json:"decision"`
	Selected  *selectedPool   `json:"selected,omitempty"`
	Trace     []traceLine     `json:"trace"`
}

type selectedPool struct {
	Pool             domain.Pool `json:"pool"`
	SpotPrice        float64     `json:"spot_price"`
	YieldScore       float64     `json:"yield_score"`
	CrashProbability float64     `json:"crash_probability"`
}

type traceLine struct {
	Stage   string    `json:"stage"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

func (s *Server) handleDecide(w http.ResponseWriter, r *http.Request) {
	var req domain.InputRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decoding request: %w", err))
		return
	}
	if err := req.Validate(); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	// One job per request; the handler blocks on its own job's completion
	// so the pool's concurrency limit is the effective admission control.
	type outcome struct {
		dc  *domain.DecisionContext
		err error
	}
	done := make(chan outcome, 1)
	job := orchestrator.Job{
		ID: req.ID,
		Run: func(ctx context.Context) error {
			dc, err := s.pipe.Run(ctx, req)
			done <- outcome{dc: dc, err: err}
			return err
		},
	}

	submit := s.orch.SubmitOptimize
	switch {
	case r.URL.Query().Get("priority") == "interrupt":
		submit = s.orch.SubmitInterrupt
	case req.Mode == domain.ModeCluster:
		submit = s.orch.SubmitScan
	}
	if err := submit(job); err != nil {
		s.writeError(w, http.StatusServiceUnavailable, err)
		return
	}

	select {
	case <-r.Context().Done():
		s.writeError(w, http.StatusGatewayTimeout, r.Context().Err())
		return
	case out := <-done:
		if out.err != nil {
			s.writeError(w, http.StatusUnprocessableEntity, out.err)
			return
		}
		s.writeJSON(w, http.StatusOK, toDecideResponse(req.ID, out.dc))
	}
}

func toDecideResponse(requestID string, dc *domain.DecisionContext) decideResponse {
	resp := decideResponse{
		RequestID: requestID,
		Decision:  dc.Decision(),
	}
	if dc.Selected != nil {
		prob, _ := dc.Selected.CrashProbability()
		resp.Selected = &selectedPool{
			Pool:             dc.Selected.Pool,
			SpotPrice:        dc.Selected.SpotPrice,
			YieldScore:       dc.Selected.YieldScore,
			CrashProbability: prob,
		}
	}
	for _, entry := range dc.Trace() {
		resp.Trace = append(resp.Trace, traceLine{Stage: entry.Stage, Message: entry.Message, At: entry.At})
	}
	return resp
}

func poolFromVars(r *http.Request) (domain.Pool, error) {
	vars := mux.Vars(r)
	pool := domain.Pool{
		Region:       vars["region"],
		Zone:         vars["zone"],
		InstanceType: vars["type"],
	}
	return pool, pool.Validate()
}

func (s *Server) handleRisk(w http.ResponseWriter, r *http.Request) {
	pool, err := poolFromVars(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"pool":    pool,
		"risk":    s.tracker.CheckPoolRisk(pool),
		"history": s.tracker.History(pool),
	})
}

// handleFlag lets remote agents report interruption evidence they observed
// first-hand. All tenants see the flag on their next check.
func (s *Server) handleFlag(w http.ResponseWriter, r *http.Request) {
	pool, err := poolFromVars(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	var body struct {
		EventType   domain.RiskEventType `json:"event_type"`
		Attribution string               `json:"attribution"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decoding flag: %w", err))
		return
	}
	switch body.EventType {
	case domain.RiskEventRebalance, domain.RiskEventTermination:
	default:
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("unknown event type %q", body.EventType))
		return
	}

	s.tracker.FlagRiskyPool(pool, body.EventType, body.Attribution)
	s.writeJSON(w, http.StatusAccepted, map[string]any{
		"pool": pool,
		"risk": s.tracker.CheckPoolRisk(pool),
	})
}

func (s *Server) handleAudit(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.recorder.Entries())
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Warn("Failed to write response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}
