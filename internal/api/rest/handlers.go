package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/treumlabs/risk-engine/internal/domain/alert"
	"github.com/treumlabs/risk-engine/internal/domain/assessment"
	"github.com/treumlabs/risk-engine/internal/domain/compliance"
	domainErrors "github.com/treumlabs/risk-engine/internal/domain/errors"
	"github.com/treumlabs/risk-engine/internal/domain/limits"
	"github.com/treumlabs/risk-engine/internal/domain/riskmetrics"
	"github.com/treumlabs/risk-engine/internal/infrastructure/cache"
	assessmentsvc "github.com/treumlabs/risk-engine/internal/service/assessment"
)

const maxRequestBody = 1 << 20 // 1MB

// AssessmentService runs assessments end to end
type AssessmentService interface {
	Assess(ctx context.Context, req assessmentsvc.Request) (*assessmentsvc.Result, error)
}

// AssessmentStore reads persisted assessments
type AssessmentStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*assessment.Assessment, error)
}

// AlertService transitions alert lifecycle state
type AlertService interface {
	Acknowledge(ctx context.Context, id uuid.UUID, by string) (*alert.Alert, error)
	Resolve(ctx context.Context, id uuid.UUID, by, note string) (*alert.Alert, error)
	Dismiss(ctx context.Context, id uuid.UUID, by, reason string) (*alert.Alert, error)
}

// AlertStore reads persisted alerts
type AlertStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*alert.Alert, error)
	ListOpen(ctx context.Context) ([]*alert.Alert, error)
}

// LimitService manages risk limit definitions and utilization
type LimitService interface {
	Define(ctx context.Context, limitType limits.LimitType, scope limits.Scope, value decimal.Decimal) (*limits.Limit, error)
	Consume(ctx context.Context, limitType limits.LimitType, scope limits.Scope, delta decimal.Decimal) (*limits.Limit, error)
	Reset(ctx context.Context, limitType limits.LimitType, scope limits.Scope) (*limits.Limit, error)
	Override(ctx context.Context, limitType limits.LimitType, scope limits.Scope, by, reason string, newValue decimal.Decimal, until time.Time) (*limits.Limit, error)
	Utilization(ctx context.Context, scope limits.Scope) ([]*limits.Limit, error)
}

// ComplianceStore reads persisted compliance checks
type ComplianceStore interface {
	ListRequiringEscalation(ctx context.Context, limit int) ([]*compliance.Check, error)
}

// MetricsStore keeps the latest analytic snapshot per scope
type MetricsStore interface {
	Put(ctx context.Context, snap *riskmetrics.Snapshot) error
	Latest(ctx context.Context, scope limits.Scope) (*riskmetrics.Snapshot, error)
}

// Pinger reports backing-store liveness for readiness probes
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler serves the risk engine's REST surface
type Handler struct {
	assessments AssessmentService
	assessStore AssessmentStore
	alerts      AlertService
	alertStore  AlertStore
	limits      LimitService
	checks      ComplianceStore
	snapshots   MetricsStore
	db          Pinger
	logger      *zap.Logger
	validate    *validator.Validate
	version     string
}

// HandlerDeps bundles the services the handler exposes
type HandlerDeps struct {
	Assessments AssessmentService
	AssessStore AssessmentStore
	Alerts      AlertService
	AlertStore  AlertStore
	Limits      LimitService
	Checks      ComplianceStore
	Snapshots   MetricsStore
	DB          Pinger
	Version     string
}

func NewHandler(deps HandlerDeps, logger *zap.Logger) *Handler {
	return &Handler{
		assessments: deps.Assessments,
		assessStore: deps.AssessStore,
		alerts:      deps.Alerts,
		alertStore:  deps.AlertStore,
		limits:      deps.Limits,
		checks:      deps.Checks,
		snapshots:   deps.Snapshots,
		db:          deps.DB,
		logger:      logger,
		validate:    validator.New(),
		version:     deps.Version,
	}
}

// RegisterRoutes wires all endpoints onto the mux
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/assessments", InstrumentHandler("create_assessment", h.createAssessment))
	mux.HandleFunc("GET /api/v1/assessments/{id}", InstrumentHandler("get_assessment", h.getAssessment))

	mux.HandleFunc("GET /api/v1/alerts", InstrumentHandler("list_alerts", h.listOpenAlerts))
	mux.HandleFunc("GET /api/v1/alerts/{id}", InstrumentHandler("get_alert", h.getAlert))
	mux.HandleFunc("POST /api/v1/alerts/{id}/acknowledge", InstrumentHandler("acknowledge_alert", h.acknowledgeAlert))
	mux.HandleFunc("POST /api/v1/alerts/{id}/resolve", InstrumentHandler("resolve_alert", h.resolveAlert))
	mux.HandleFunc("POST /api/v1/alerts/{id}/dismiss", InstrumentHandler("dismiss_alert", h.dismissAlert))

	mux.HandleFunc("PUT /api/v1/limits", InstrumentHandler("define_limit", h.defineLimit))
	mux.HandleFunc("GET /api/v1/limits", InstrumentHandler("list_limits", h.listLimits))
	mux.HandleFunc("POST /api/v1/limits/consume", InstrumentHandler("consume_limit", h.consumeLimit))
	mux.HandleFunc("POST /api/v1/limits/reset", InstrumentHandler("reset_limit", h.resetLimit))
	mux.HandleFunc("POST /api/v1/limits/override", InstrumentHandler("override_limit", h.overrideLimit))

	mux.HandleFunc("GET /api/v1/compliance/escalations", InstrumentHandler("list_escalations", h.listEscalations))

	mux.HandleFunc("PUT /api/v1/metrics/snapshots", InstrumentHandler("put_snapshot", h.putSnapshot))
	mux.HandleFunc("GET /api/v1/metrics/snapshots", InstrumentHandler("get_snapshot", h.getSnapshot))

	mux.HandleFunc("GET /healthz", h.healthz)
	mux.HandleFunc("GET /readyz", h.readyz)
}

func (h *Handler) createAssessment(w http.ResponseWriter, r *http.Request) {
	var req AssessmentRequest
	if !h.decode(w, r, &req) {
		return
	}

	assessmentType, err := parseAssessmentType(req.Type)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_TYPE", err.Error(), "")
		return
	}

	result, err := h.assessments.Assess(r.Context(), assessmentsvc.Request{
		Type:               assessmentType,
		Subject:            req.Subject,
		Jurisdiction:       req.Jurisdiction,
		Session:            req.Session,
		Transaction:        req.Transaction,
		Trade:              req.Trade,
		History:            req.History,
		RecentTransactions: req.RecentTransactions,
		RecentOrders:       req.RecentOrders,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, newAssessmentResultResponse(result))
}

func (h *Handler) getAssessment(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	a, err := h.assessStore.GetByID(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newAssessmentResponse(a))
}

func (h *Handler) listOpenAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := h.alertStore.ListOpen(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": alerts, "count": len(alerts)})
}

func (h *Handler) getAlert(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	a, err := h.alertStore.GetByID(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *Handler) acknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	h.alertAction(w, r, func(id uuid.UUID, req AlertActionRequest) (*alert.Alert, error) {
		return h.alerts.Acknowledge(r.Context(), id, req.By)
	})
}

func (h *Handler) resolveAlert(w http.ResponseWriter, r *http.Request) {
	h.alertAction(w, r, func(id uuid.UUID, req AlertActionRequest) (*alert.Alert, error) {
		return h.alerts.Resolve(r.Context(), id, req.By, req.Note)
	})
}

func (h *Handler) dismissAlert(w http.ResponseWriter, r *http.Request) {
	h.alertAction(w, r, func(id uuid.UUID, req AlertActionRequest) (*alert.Alert, error) {
		return h.alerts.Dismiss(r.Context(), id, req.By, req.Reason)
	})
}

func (h *Handler) alertAction(w http.ResponseWriter, r *http.Request, action func(uuid.UUID, AlertActionRequest) (*alert.Alert, error)) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	var req AlertActionRequest
	if !h.decode(w, r, &req) {
		return
	}

	a, err := action(id, req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *Handler) defineLimit(w http.ResponseWriter, r *http.Request) {
	var req LimitDefineRequest
	if !h.decode(w, r, &req) {
		return
	}

	limit, err := h.limits.Define(r.Context(), limits.LimitType(req.Type), req.Scope.toDomain(), req.Value)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, limit)
}

func (h *Handler) listLimits(w http.ResponseWriter, r *http.Request) {
	scope := limits.Scope{
		Type: limits.ScopeType(r.URL.Query().Get("scope_type")),
		ID:   r.URL.Query().Get("scope_id"),
	}
	if scope.Type == "" {
		writeError(w, http.StatusBadRequest, "MISSING_SCOPE", "scope_type query parameter is required", "")
		return
	}

	list, err := h.limits.Utilization(r.Context(), scope)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"limits": list, "count": len(list)})
}

func (h *Handler) consumeLimit(w http.ResponseWriter, r *http.Request) {
	var req LimitConsumeRequest
	if !h.decode(w, r, &req) {
		return
	}

	limit, err := h.limits.Consume(r.Context(), limits.LimitType(req.Type), req.Scope.toDomain(), req.Delta)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, limit)
}

func (h *Handler) resetLimit(w http.ResponseWriter, r *http.Request) {
	var req LimitResetRequest
	if !h.decode(w, r, &req) {
		return
	}

	limit, err := h.limits.Reset(r.Context(), limits.LimitType(req.Type), req.Scope.toDomain())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, limit)
}

func (h *Handler) overrideLimit(w http.ResponseWriter, r *http.Request) {
	var req LimitOverrideRequest
	if !h.decode(w, r, &req) {
		return
	}

	limit, err := h.limits.Override(r.Context(), limits.LimitType(req.Type), req.Scope.toDomain(),
		req.By, req.Reason, req.Value, req.Until)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, limit)
}

func (h *Handler) listEscalations(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 500 {
			writeError(w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be between 1 and 500", "")
			return
		}
		limit = parsed
	}

	checks, err := h.checks.ListRequiringEscalation(r.Context(), limit)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"checks": checks, "count": len(checks)})
}

func (h *Handler) putSnapshot(w http.ResponseWriter, r *http.Request) {
	if h.snapshots == nil {
		writeError(w, http.StatusServiceUnavailable, "METRICS_DISABLED", "Snapshot storage is not configured", "")
		return
	}

	var req SnapshotRequest
	if !h.decode(w, r, &req) {
		return
	}

	at := req.Timestamp
	if at.IsZero() {
		at = time.Now()
	}
	snap, err := riskmetrics.NewSnapshot(req.Scope.toDomain(), at)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_SCOPE", err.Error(), "")
		return
	}

	snap.VaR95 = req.VaR95
	snap.CVaR95 = req.CVaR95
	snap.SharpeRatio = req.SharpeRatio
	snap.Volatility = req.Volatility
	snap.Beta = req.Beta
	snap.MaxDrawdown = req.MaxDrawdown
	snap.Concentration = req.Concentration
	snap.Statistics = req.Statistics
	snap.Attribution = req.Attribution
	if req.StaleThresholdMinutes > 0 {
		snap.StaleThreshold = time.Duration(req.StaleThresholdMinutes) * time.Minute
	}

	if err := h.snapshots.Put(r.Context(), snap); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, snap)
}

func (h *Handler) getSnapshot(w http.ResponseWriter, r *http.Request) {
	if h.snapshots == nil {
		writeError(w, http.StatusServiceUnavailable, "METRICS_DISABLED", "Snapshot storage is not configured", "")
		return
	}

	scope := limits.Scope{
		Type: limits.ScopeType(r.URL.Query().Get("scope_type")),
		ID:   r.URL.Query().Get("scope_id"),
	}
	if scope.Type == "" {
		writeError(w, http.StatusBadRequest, "MISSING_SCOPE", "scope_type query parameter is required", "")
		return
	}

	snap, err := h.snapshots.Latest(r.Context(), scope)
	if err != nil {
		if cache.IsMiss(err) {
			writeError(w, http.StatusNotFound, "RESOURCE_NOT_FOUND", "No snapshot for scope", "")
			return
		}
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"snapshot": snap,
		"stale":    snap.IsStale(time.Now()),
		"trend":    snap.Trend.String(),
	})
}

func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": h.version})
}

func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	if h.db != nil {
		if err := h.db.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "NOT_READY", "database unavailable", "")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// decode reads, unmarshals and validates a JSON body; on failure it has
// already written the error response.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "Request body could not be parsed", err.Error())
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Request failed validation", err.Error())
		return false
	}
	return true
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "Path ID must be a UUID", "")
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *domainErrors.AppError
	if errors.As(err, &appErr) {
		writeError(w, appErr.StatusCode, appErr.Code, appErr.Message, "")
		return
	}

	h.logger.Error("unhandled service error",
		zap.Error(err),
		zap.String("path", r.URL.Path),
		zap.String("request_id", RequestIDFromContext(r.Context())),
	)
	writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An internal error occurred", "")
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, message, details string) {
	writeJSON(w, status, ErrorResponse{Error: ErrorBody{Code: code, Message: message, Details: details}})
}
