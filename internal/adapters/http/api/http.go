// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/okian/stopodds/internal/domain/intake"
	"github.com/okian/stopodds/internal/domain/model"
	"github.com/okian/stopodds/internal/domain/types"
)

// Submitter stores validated submissions.
type Submitter interface {
	Submit(ctx context.Context, c intake.Candidate, meta intake.Metadata) (model.Submission, error)
}

// Reader serves the published artifacts. Reads never fail; an empty corpus
// yields the baseline.
type Reader interface {
	Overview(ctx context.Context) types.Overview
	Predict(ctx context.Context, traits model.Traits) types.Prediction
	Methods(ctx context.Context) types.Methods
}

// JobQueue accepts batch jobs. Returns false on backpressure.
type JobQueue interface {
	EnqueueJob(ctx context.Context, kind model.JobKind, reason string) (model.Job, bool)
}

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	Submitter
	Reader
	JobQueue
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler *HealthHandler
	statsHandler  *StatsHandler
	submitHandler *SubmitHandler
	readHandler   *ReadHandler
	trainHandler  *TrainHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider) *Server {
	return &Server{
		healthHandler: NewHealthHandler(),
		statsHandler:  NewStatsHandler(statsProvider),
		submitHandler: NewSubmitHandler(deps),
		readHandler:   NewReadHandler(deps),
		trainHandler:  NewTrainHandler(deps),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	mux.HandleFunc("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("/api/submit", MetricsMiddleware(s.submitHandler.HandleSubmit, "submit"))
	mux.HandleFunc("/api/overview", MetricsMiddleware(s.readHandler.HandleOverview, "overview"))
	mux.HandleFunc("/api/predict", MetricsMiddleware(s.readHandler.HandlePredict, "predict"))
	mux.HandleFunc("/api/methods", MetricsMiddleware(s.readHandler.HandleMethods, "methods"))
	mux.HandleFunc("/api/train", MetricsMiddleware(s.trainHandler.HandleTrain, "train"))
}

type errorResponse struct {
	Status  string `json:"status,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}
