package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"fraud_scorer/internal/domain"
	"fraud_scorer/internal/processor"
	"fraud_scorer/internal/repository"
	"fraud_scorer/internal/service"
	"fraud_scorer/pkg/crypto"
	"fraud_scorer/pkg/validator"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

const (
	maxBodyBytes       = 1 << 20
	defaultListLimit   = 50
	maxListLimit       = 500
	healthProbeTimeout = 2 * time.Second
	sseHeartbeat       = 15 * time.Second
)

// AdvisoryStatus is what the health endpoint reports about the advisory
// model. It never takes part in scoring decisions.
type AdvisoryStatus interface {
	Configured() bool
	Endpoint() string
	Ping(ctx context.Context) error
}

// Settings is the non-secret configuration echoed by GET /config.
type Settings struct {
	ServiceName     string
	VelocityWindow  time.Duration
	IdleTTL         time.Duration
	Policy          processor.Policy
	VelocityBackend string
	VerdictBackend  string
	AdvisoryTimeout time.Duration
	KafkaTopics     []string
}

type APIHandler struct {
	scoring        *service.ScoringService
	verdicts       repository.VerdictRepository
	hub            *service.Hub
	advisory       AdvisoryStatus
	validator      *validator.TransactionValidator
	signer         *crypto.Signer
	settings       Settings
	startedAt      time.Time
	logger         *slog.Logger
	requestTimeout time.Duration
}

func NewAPIHandler(
	scoring *service.ScoringService,
	verdicts repository.VerdictRepository,
	hub *service.Hub,
	advisory AdvisoryStatus,
	settings Settings,
	signer *crypto.Signer,
	logger *slog.Logger,
) *APIHandler {
	if logger == nil {
		logger = slog.Default()
	}

	return &APIHandler{
		scoring:        scoring,
		verdicts:       verdicts,
		hub:            hub,
		advisory:       advisory,
		validator:      validator.NewTransactionValidator(),
		signer:         signer,
		settings:       settings,
		startedAt:      time.Now(),
		logger:         logger,
		requestTimeout: 30 * time.Second,
	}
}

type AnalyzeResponse struct {
	EventID          string           `json:"event_id"`
	Risk             domain.RiskLabel `json:"risk"`
	Score            float64          `json:"score"`
	RuleScore        float64          `json:"rule_score"`
	HeuristicScore   float64          `json:"heuristic_score"`
	Explanation      string           `json:"explanation"`
	Flags            map[string]bool  `json:"flags"`
	ExpectedCategory string           `json:"expected_category,omitempty"`
	AdvisoryUsed     bool             `json:"advisory_used"`
	Degraded         bool             `json:"degraded,omitempty"`
}

type HealthResponse struct {
	Status             string `json:"status"`
	Service            string `json:"service"`
	AdvisoryConfigured bool   `json:"advisory_configured"`
	AdvisoryReachable  bool   `json:"advisory_reachable"`
	AdvisoryEndpoint   string `json:"advisory_endpoint,omitempty"`
	Uptime             string `json:"uptime"`
}

type ConfigResponse struct {
	Service          string           `json:"service"`
	VelocityWindowMS int64            `json:"velocity_window_ms"`
	IdleTTL          string           `json:"velocity_idle_ttl"`
	Policy           processor.Policy `json:"policy"`
	VelocityBackend  string           `json:"velocity_backend"`
	VerdictBackend   string           `json:"verdict_backend"`
	AdvisoryEndpoint string           `json:"advisory_endpoint,omitempty"`
	AdvisoryTimeout  string           `json:"advisory_timeout"`
	KafkaTopics      []string         `json:"kafka_topics,omitempty"`
}

type VerdictListResponse struct {
	Verdicts []*domain.Verdict       `json:"verdicts"`
	Counts   map[domain.RiskLabel]int `json:"counts"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func NewAnalyzeResponse(v *domain.Verdict) AnalyzeResponse {
	return AnalyzeResponse{
		EventID:          v.EventID,
		Risk:             v.Label,
		Score:            v.FinalScore,
		RuleScore:        v.RuleScore,
		HeuristicScore:   v.HeuristicScore,
		Explanation:      v.Explanation,
		Flags:            v.Flags.AsMap(),
		ExpectedCategory: v.Flags.ExpectedCategory,
		AdvisoryUsed:     v.AdvisoryUsed,
		Degraded:         v.Degraded,
	}
}

// AnalyzeHandler scores one transaction. Only a body that is not a JSON
// object is rejected; every other input gets a verdict.
func (h *APIHandler) AnalyzeHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	tx, err := h.validator.Decode(http.MaxBytesReader(w, r.Body, maxBodyBytes), time.Now())
	if err != nil {
		h.sendError(w, err.Error(), http.StatusBadRequest, "INVALID_REQUEST")
		return
	}

	verdict := h.scoring.Score(ctx, tx)
	response := NewAnalyzeResponse(verdict)

	body, err := json.Marshal(response)
	if err != nil {
		h.sendError(w, "Failed to encode verdict", http.StatusInternalServerError, "SERVER_ERROR")
		return
	}

	if h.signer.Enabled() {
		w.Header().Set(crypto.SignatureHeader, h.signer.Sign(body))
		w.Header().Set(crypto.VerdictSignatureHeader, h.signer.SignVerdict(verdict.EventID, string(verdict.Label), verdict.FinalScore))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (h *APIHandler) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:  "healthy",
		Service: h.settings.ServiceName,
		Uptime:  time.Since(h.startedAt).Round(time.Second).String(),
	}

	if h.advisory != nil && h.advisory.Configured() {
		response.AdvisoryConfigured = true
		response.AdvisoryEndpoint = h.advisory.Endpoint()

		ctx, cancel := context.WithTimeout(r.Context(), healthProbeTimeout)
		defer cancel()
		if err := h.advisory.Ping(ctx); err != nil {
			h.logger.DebugContext(ctx, "Advisory ping failed", slog.String("error", err.Error()))
		} else {
			response.AdvisoryReachable = true
		}
	}

	h.sendJSON(w, response, http.StatusOK)
}

func (h *APIHandler) ConfigHandler(w http.ResponseWriter, r *http.Request) {
	response := ConfigResponse{
		Service:          h.settings.ServiceName,
		VelocityWindowMS: h.settings.VelocityWindow.Milliseconds(),
		IdleTTL:          h.settings.IdleTTL.String(),
		Policy:           h.settings.Policy,
		VelocityBackend:  h.settings.VelocityBackend,
		VerdictBackend:   h.settings.VerdictBackend,
		AdvisoryTimeout:  h.settings.AdvisoryTimeout.String(),
		KafkaTopics:      h.settings.KafkaTopics,
	}
	if h.advisory != nil && h.advisory.Configured() {
		response.AdvisoryEndpoint = h.advisory.Endpoint()
	}

	h.sendJSON(w, response, http.StatusOK)
}

// GetVerdictHandler returns one verdict by ?id=, or the most recent
// verdicts with label counts when no id is given.
func (h *APIHandler) GetVerdictHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	if eventID := r.URL.Query().Get("id"); eventID != "" {
		verdict, err := h.verdicts.GetByEventID(ctx, eventID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				h.sendError(w, "Verdict not found", http.StatusNotFound, "NOT_FOUND")
			} else {
				h.sendError(w, "Failed to get verdict", http.StatusInternalServerError, "SERVER_ERROR")
			}
			return
		}
		h.sendJSON(w, verdict, http.StatusOK)
		return
	}

	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			h.sendError(w, "limit must be a positive integer", http.StatusBadRequest, "INVALID_LIMIT")
			return
		}
		limit = min(n, maxListLimit)
	}

	verdicts, err := h.verdicts.ListRecent(ctx, limit)
	if err != nil {
		h.sendError(w, "Failed to list verdicts", http.StatusInternalServerError, "SERVER_ERROR")
		return
	}
	counts, err := h.verdicts.CountByLabel(ctx)
	if err != nil {
		h.sendError(w, "Failed to count verdicts", http.StatusInternalServerError, "SERVER_ERROR")
		return
	}

	h.sendJSON(w, VerdictListResponse{Verdicts: verdicts, Counts: counts}, http.StatusOK)
}

// StreamHandler is the dashboard feed as Server-Sent Events: recent
// insights first, then live ones until the client goes away.
func (h *APIHandler) StreamHandler(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		h.sendError(w, "Streaming unsupported", http.StatusInternalServerError, "SERVER_ERROR")
		return
	}

	live, recent, unsubscribe := h.hub.Subscribe()
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	for _, insight := range recent {
		if err := writeEvent(w, insight); err != nil {
			return
		}
	}
	flusher.Flush()

	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-h.hub.Done():
			return
		case insight := <-live:
			if err := writeEvent(w, insight); err != nil {
				return
			}
			flusher.Flush()
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, insight domain.Insight) error {
	data, err := json.Marshal(insight)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: insight\ndata: %s\n\n", data)
	return err
}

func (h *APIHandler) sendJSON(w http.ResponseWriter, data any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode JSON response", slog.String("error", err.Error()))
	}
}

func (h *APIHandler) sendError(w http.ResponseWriter, message string, statusCode int, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: message, Code: code})

	h.logger.Warn("API error response",
		slog.String("message", message),
		slog.String("code", code),
		slog.Int("status", statusCode))
}

func (h *APIHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /analyze", h.AnalyzeHandler)
	mux.HandleFunc("GET /health", h.HealthCheckHandler)
	mux.HandleFunc("GET /config", h.ConfigHandler)
	mux.HandleFunc("GET /api/v1/verdicts", h.GetVerdictHandler)
	mux.HandleFunc("GET /ws", h.StreamHandler)
}
