package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/logging"
	"github.com/opensource-finance/kestrel/internal/model"
	"github.com/opensource-finance/kestrel/internal/pipeline"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/simulation"
	"github.com/opensource-finance/kestrel/internal/training"
)

// Deps are the components the API serves. Cache, Bus, Driver and
// Metrics may be nil.
type Deps struct {
	Repo       domain.Repository
	Cache      domain.Cache
	Bus        domain.EventBus
	Evaluator  *pipeline.Evaluator
	Rules      *rules.Engine
	Model      *model.Manager
	Recorder   *training.Recorder
	Driver     *simulation.Driver
	Thresholds domain.RiskThresholds
}

// Handler holds dependencies for API handlers.
type Handler struct {
	Deps
	version string
}

// NewHandler creates a new API handler.
func NewHandler(deps Deps, version string) *Handler {
	return &Handler{Deps: deps, version: version}
}

// EvaluateResponse is the response for POST /v1/evaluate.
type EvaluateResponse struct {
	TransactionID string         `json:"transactionId"`
	SignalID      string         `json:"signalId"`
	RiskScore     int            `json:"riskScore"`
	RiskLevel     string         `json:"riskLevel"`
	Reasons       []string       `json:"reasons"`
	Confidence    float64        `json:"confidence"`
	Degraded      bool           `json:"degraded,omitempty"`
	Action        string         `json:"action"`
	AlertID       string         `json:"alertId,omitempty"`
	Metadata      map[string]any `json:"metadata"`
}

// Evaluate handles POST /v1/evaluate. With ?async=true the request is
// queued on the bus for the worker and answered with 202.
func (h *Handler) Evaluate(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	var req domain.TransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, err)
		return
	}

	if async, _ := strconv.ParseBool(r.URL.Query().Get("async")); async {
		h.enqueue(w, r, &req)
		return
	}

	out, err := h.Evaluator.Submit(ctx, &req)
	if err != nil {
		logging.FromContext(ctx).Error("evaluation failed", "error", err)
		writeError(w, err)
		return
	}

	resp := EvaluateResponse{
		TransactionID: out.Transaction.ID,
		SignalID:      out.Signal.ID,
		RiskScore:     out.Signal.RiskScore,
		RiskLevel:     out.RiskLevel,
		Reasons:       out.Assessment.Reasons,
		Confidence:    out.Assessment.Confidence,
		Degraded:      out.Assessment.Degraded,
		Action:        string(out.Decision.Action),
		Metadata: map[string]any{
			"traceId": GetTraceID(ctx),
			"totalMs": time.Since(start).Milliseconds(),
			"version": h.version,
		},
	}
	if out.Alert != nil {
		resp.AlertID = out.Alert.ID
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) enqueue(w http.ResponseWriter, r *http.Request, req *domain.TransactionRequest) {
	if h.Bus == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "event bus not available",
		})
		return
	}
	if req.ID == "" {
		req.ID = uuid.New().String()
	}

	payload, err := json.Marshal(req)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.Bus.Publish(r.Context(), domain.TopicTransactionSubmitted, payload); err != nil {
		logging.FromContext(r.Context()).Error("failed to queue transaction", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "failed to queue transaction",
		})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"transactionId": req.ID,
		"status":        "queued",
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	checks := map[string]string{}

	check := func(name string, ping func() error) {
		if err := ping(); err != nil {
			checks[name] = err.Error()
			status = "degraded"
			return
		}
		checks[name] = "ok"
	}

	ctx := r.Context()
	if h.Repo != nil {
		check("repository", func() error { return h.Repo.Ping(ctx) })
	}
	if h.Cache != nil {
		check("cache", func() error { return h.Cache.Ping(ctx) })
	}
	if h.Bus != nil {
		check("bus", func() error { return h.Bus.Ping(ctx) })
	}

	resp := map[string]any{
		"status":  status,
		"version": h.version,
		"checks":  checks,
	}
	if local, ok := h.Cache.(interface{ Stats() cache.Stats }); ok {
		resp["cache"] = local.Stats()
	}
	writeJSON(w, http.StatusOK, resp)
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.Repo == nil || h.Repo.Ping(r.Context()) != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"ready": "false",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// GetTransaction retrieves a transaction by ID.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := h.Repo.GetTransaction(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

// ListSignals returns the risk signals recorded for a transaction.
func (h *Handler) ListSignals(w http.ResponseWriter, r *http.Request) {
	txID := chi.URLParam(r, "id")
	signals, err := h.Repo.ListRiskSignals(r.Context(), txID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"transactionId": txID,
		"signals":       nonNil(signals),
		"count":         len(signals),
	})
}

// ListAlerts returns alerts, optionally filtered by ?status=.
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	if status != "" && status != domain.AlertOpen && status != domain.AlertResolved {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "status must be open or resolved",
		})
		return
	}

	alerts, err := h.Repo.ListAlerts(r.Context(), status, queryInt(r, "limit", 100))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": nonNil(alerts),
		"count":  len(alerts),
	})
}

// ResolveAlert marks an open alert resolved.
func (h *Handler) ResolveAlert(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.Repo.ResolveAlert(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}

	logging.FromContext(r.Context()).Info("alert resolved", "alert_id", id)
	writeJSON(w, http.StatusOK, map[string]string{
		"id":     id,
		"status": domain.AlertResolved,
	})
}

// Stats returns the dashboard counters.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Repo.DashboardStats(r.Context(), h.Thresholds.HighRisk)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// StartSimulation starts the synthetic traffic driver.
func (h *Handler) StartSimulation(w http.ResponseWriter, r *http.Request) {
	if !h.hasDriver(w) {
		return
	}
	if err := h.Driver.Start(); err != nil {
		if errors.Is(err, simulation.ErrAlreadyRunning) {
			writeJSON(w, http.StatusConflict, map[string]string{
				"error": err.Error(),
			})
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.Driver.Status())
}

// StopSimulation cancels the driver's schedule.
func (h *Handler) StopSimulation(w http.ResponseWriter, r *http.Request) {
	if !h.hasDriver(w) {
		return
	}
	stopped := h.Driver.Stop()
	writeJSON(w, http.StatusOK, map[string]any{
		"stopped": stopped,
		"status":  h.Driver.Status(),
	})
}

// SimulationStatus reports the driver state.
func (h *Handler) SimulationStatus(w http.ResponseWriter, r *http.Request) {
	if !h.hasDriver(w) {
		return
	}
	writeJSON(w, http.StatusOK, h.Driver.Status())
}

func (h *Handler) hasDriver(w http.ResponseWriter) bool {
	if h.Driver == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "simulation not available",
		})
		return false
	}
	return true
}

// ModelInfo describes the current model.
func (h *Handler) ModelInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"kind":    h.Model.Kind(),
		"trained": h.Model.IsTrained(),
		"current": h.Model.Current(),
	})
}

// Retrain fits the model to the stored training examples.
func (h *Handler) Retrain(w http.ResponseWriter, r *http.Request) {
	res, err := h.Recorder.Retrain(r.Context(), h.Model)
	if err != nil {
		logging.FromContext(r.Context()).Error("retrain failed", "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ListRules returns all loaded rules from the engine.
// Rules are loaded from the database at startup and can be reloaded via POST /v1/rules/reload.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	loaded := h.Rules.GetLoadedRules()
	writeJSON(w, http.StatusOK, map[string]any{
		"rules":  nonNil(loaded),
		"count":  len(loaded),
		"source": "database",
	})
}

// GetRule retrieves a rule by ID from the loaded engine rules.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "id")
	for _, rule := range h.Rules.GetLoadedRules() {
		if rule.ID == ruleID {
			writeJSON(w, http.StatusOK, rule)
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]string{
		"error": "rule not found",
	})
}

// CreateRuleRequest is the request body for creating a rule.
type CreateRuleRequest struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Expression  string  `json:"expression"`
	Reason      string  `json:"reason"`
	Multiplier  float64 `json:"multiplier"`
	Enabled     bool    `json:"enabled"`
}

// CreateRule validates and stores a rule.
// After saving, call POST /v1/rules/reload to hot-reload into the engine.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if req.ID == "" || req.Name == "" || req.Expression == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id, name, and expression are required",
		})
		return
	}

	rule := &domain.RuleConfig{
		ID:          req.ID,
		Name:        req.Name,
		Description: req.Description,
		Version:     "1.0.0",
		Expression:  req.Expression,
		Reason:      req.Reason,
		Multiplier:  req.Multiplier,
		Enabled:     req.Enabled,
	}

	if err := h.Rules.ValidateRule(rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid rule: " + err.Error(),
		})
		return
	}

	if err := h.Repo.SaveRuleConfig(ctx, rule); err != nil {
		slog.Error("failed to save rule config", "id", rule.ID, "error", err)
		writeError(w, err)
		return
	}

	slog.Info("rule created", "id", rule.ID, "name", rule.Name)
	writeJSON(w, http.StatusCreated, map[string]any{
		"rule":    rule,
		"message": "Rule created. Call POST /v1/rules/reload to apply changes.",
	})
}

// ReloadRules reloads all rules from the database into the engine.
// This enables hot-reloading without server restart.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	dbRules, err := h.Repo.ListRuleConfigs(r.Context())
	if err != nil {
		slog.Error("failed to list rules from database", "error", err)
		writeError(w, err)
		return
	}

	if err := h.Rules.ReloadRules(dbRules); err != nil {
		slog.Error("failed to reload rules into engine", "error", err)
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"error": "failed to reload rules: " + err.Error(),
		})
		return
	}

	slog.Info("rules reloaded from database", "count", h.Rules.RulesCount())
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "rules reloaded successfully",
		"count":   h.Rules.RulesCount(),
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError maps domain errors onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrInsufficientData):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrDependencyUnavailable):
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]string{
		"error": err.Error(),
	})
}

func queryInt(r *http.Request, key string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

// nonNil keeps empty lists encoding as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
