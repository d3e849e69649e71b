package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/TRUSTSCOREAI/TRUSTSCORE/internal/domain"
	"github.com/TRUSTSCOREAI/TRUSTSCORE/internal/fraud"
	"github.com/TRUSTSCOREAI/TRUSTSCORE/internal/ingest"
	"github.com/TRUSTSCOREAI/TRUSTSCORE/internal/worker"
)

// FraudService is the fraud aggregator as seen by the API.
type FraudService interface {
	Evaluate(ctx context.Context, address string) (*fraud.Evaluation, error)
	Analyze(ctx context.Context, address string) (*domain.FraudAnalysis, error)
	Score(ctx context.Context, address string) (*domain.FraudScore, error)
	Flags(ctx context.Context, address string, includeResolved bool) ([]domain.FraudFlag, error)
}

// ReputationService serves materialized reputation snapshots.
type ReputationService interface {
	GetService(ctx context.Context, address string, recalculate bool) (*domain.ServiceReputation, error)
	GetAgent(ctx context.Context, address string, recalculate bool) (*domain.AgentReputation, error)
}

// CompatibilityService assesses a service/agent pairing.
type CompatibilityService interface {
	Assess(ctx context.Context, serviceAddress, agentAddress string) (*domain.CompatibilityAssessment, error)
}

// Ingester accepts chain payment events.
type Ingester interface {
	Ingest(ctx context.Context, ev ingest.Event) (ingest.Outcome, error)
}

// Consumer reports the event-stream subscriptions of the ingest worker.
type Consumer interface {
	GetStats() worker.Stats
}

// Deps are the components behind the handlers. Repo and Cache are used for
// health checks; Repo also resolves flags. Consumer is nil when the stream
// worker is disabled.
type Deps struct {
	Repo       domain.Repository
	Cache      domain.Cache
	Bus        domain.EventBus
	Fraud      FraudService
	Reputation ReputationService
	Compat     CompatibilityService
	Ingester   Ingester
	Consumer   Consumer
	Version    string
	Logger     *slog.Logger
	Now        func() time.Time
}

// Handler holds dependencies for API handlers.
type Handler struct {
	Deps
}

// NewHandler creates a new API handler.
func NewHandler(deps Deps) *Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Handler{Deps: deps}
}

// GetServiceReputation handles GET /reputation/service/{address}.
func (h *Handler) GetServiceReputation(w http.ResponseWriter, r *http.Request) {
	rep, err := h.Reputation.GetService(r.Context(), chi.URLParam(r, "address"), recalculate(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// GetAgentReputation handles GET /reputation/agent/{address}.
func (h *Handler) GetAgentReputation(w http.ResponseWriter, r *http.Request) {
	rep, err := h.Reputation.GetAgent(r.Context(), chi.URLParam(r, "address"), recalculate(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// FraudScore handles GET /fraud/{address}/score.
func (h *Handler) FraudScore(w http.ResponseWriter, r *http.Request) {
	score, err := h.Fraud.Score(r.Context(), chi.URLParam(r, "address"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, score)
}

// FraudFlags handles GET /fraud/{address}/flags.
func (h *Handler) FraudFlags(w http.ResponseWriter, r *http.Request) {
	includeResolved, _ := strconv.ParseBool(r.URL.Query().Get("includeResolved"))

	flags, err := h.Fraud.Flags(r.Context(), chi.URLParam(r, "address"), includeResolved)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if flags == nil {
		flags = []domain.FraudFlag{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"flags": flags,
		"count": len(flags),
	})
}

// EvaluateFraud handles POST /fraud/{address}/evaluate. It runs the alerting
// rule set and persists any new flags.
func (h *Handler) EvaluateFraud(w http.ResponseWriter, r *http.Request) {
	eval, err := h.Fraud.Evaluate(r.Context(), chi.URLParam(r, "address"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, eval)
}

// AnalyzeFraud handles GET /fraud/{address}/analysis. Nothing is persisted.
func (h *Handler) AnalyzeFraud(w http.ResponseWriter, r *http.Request) {
	analysis, err := h.Fraud.Analyze(r.Context(), chi.URLParam(r, "address"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, analysis)
}

// ResolveFlag handles POST /fraud/flags/{id}/resolve.
func (h *Handler) ResolveFlag(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "flag id is required"})
		return
	}

	resolvedAt := h.Now().Unix()
	if err := h.Repo.ResolveFraudFlag(r.Context(), id, resolvedAt); err != nil {
		h.writeError(w, r, err)
		return
	}

	h.Logger.Info("fraud flag resolved", "flag_id", id)
	writeJSON(w, http.StatusOK, map[string]any{
		"id":         id,
		"isResolved": true,
		"resolvedAt": resolvedAt,
	})
}

// Compatibility handles GET /compatibility?service=&agent=.
func (h *Handler) Compatibility(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	service, agent := q.Get("service"), q.Get("agent")
	if service == "" || agent == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "service and agent query parameters are required",
		})
		return
	}

	assessment, err := h.Compat.Assess(r.Context(), service, agent)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, assessment)
}

// IngestResponse is the response for POST /ingest.
type IngestResponse struct {
	TxHash  string         `json:"txHash"`
	Outcome ingest.Outcome `json:"outcome"`
}

// Ingest handles POST /ingest, the push path for chain watchers that do
// not publish to the event bus.
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	var ev ingest.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	outcome, err := h.Ingester.Ingest(r.Context(), ev)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	status := http.StatusOK
	if outcome == ingest.OutcomeStored {
		status = http.StatusCreated
	}
	writeJSON(w, status, IngestResponse{TxHash: ev.Hash, Outcome: outcome})
}

// Health handles GET /health. Backing store failures degrade the status
// but still answer 200.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	checks := map[string]string{}

	probe := func(name string, ping func(context.Context) error) {
		if err := ping(r.Context()); err != nil {
			status = "degraded"
			checks[name] = err.Error()
			return
		}
		checks[name] = "ok"
	}
	if h.Repo != nil {
		probe("repository", h.Repo.Ping)
	}
	if h.Cache != nil {
		probe("cache", h.Cache.Ping)
	}
	if h.Bus != nil {
		probe("event_bus", h.Bus.Ping)
	}

	resp := map[string]any{
		"status":  status,
		"version": h.Version,
		"checks":  checks,
	}
	if h.Consumer != nil {
		resp["ingest_worker"] = h.Consumer.GetStats()
	}
	writeJSON(w, http.StatusOK, resp)
}

// Ready handles GET /ready. It fails when the repository is unreachable.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.Repo != nil {
		if err := h.Repo.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"ready": "false",
				"error": "repository unavailable",
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

func recalculate(r *http.Request) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get("recalculate"))
	return v
}

// statusFor maps the shared error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	// Rejected events also wrap the address errors, so this case goes first.
	case errors.Is(err, domain.ErrUpstreamIngestion):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		h.Logger.Error("request failed",
			"path", r.URL.Path,
			"request_id", GetRequestID(r.Context()),
			"error", err,
		)
		msg = http.StatusText(status)
	}
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
