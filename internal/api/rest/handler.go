package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clinicore/compliance-engine/internal/domain/audit"
	"github.com/clinicore/compliance-engine/internal/domain/compliance"
	"github.com/clinicore/compliance-engine/internal/domain/consent"
	"github.com/clinicore/compliance-engine/internal/domain/retention"
	apperrors "github.com/clinicore/compliance-engine/internal/errors"
	compliancesvc "github.com/clinicore/compliance-engine/internal/service/compliance"
	retentionsvc "github.com/clinicore/compliance-engine/internal/service/retention"
)

// maxBodySize bounds request bodies on all write endpoints.
const maxBodySize = 64 << 10

// Handler serves the governance HTTP API.
type Handler struct {
	logger     *zap.Logger
	engine     *compliancesvc.Engine
	reporter   *compliancesvc.Reporter
	consents   ConsentOperations
	retention  *retentionsvc.Manager
	auditTrail AuditReader
}

// ConsentOperations is what the handler needs from the consent service.
type ConsentOperations interface {
	RecordConsent(ctx context.Context, draft consent.Record) (uuid.UUID, error)
	GetConsent(ctx context.Context, subjectID string, consentType *consent.Type) ([]*consent.Record, error)
	IsConsentValid(ctx context.Context, subjectID string, consentType consent.Type) (bool, error)
}

// AuditReader is the handler's read-only view of the audit trail.
type AuditReader interface {
	Query(ctx context.Context, filter audit.QueryFilter) ([]*audit.Event, error)
}

// NewHandler wires the API surface over the injected services.
func NewHandler(logger *zap.Logger, engine *compliancesvc.Engine, reporter *compliancesvc.Reporter,
	consents ConsentOperations, retention *retentionsvc.Manager, trail AuditReader) *Handler {
	return &Handler{
		logger:     logger,
		engine:     engine,
		reporter:   reporter,
		consents:   consents,
		retention:  retention,
		auditTrail: trail,
	}
}

// RegisterRoutes attaches all governance endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("POST /api/v1/compliance/check", h.wrap(h.handleComplianceCheck))
	mux.Handle("GET /api/v1/compliance/rules", h.wrap(h.handleListRules))
	mux.Handle("GET /api/v1/reports/compliance", h.wrap(h.handleComplianceReport))
	mux.Handle("POST /api/v1/consents", h.wrap(h.handleRecordConsent))
	mux.Handle("GET /api/v1/consents", h.wrap(h.handleListConsents))
	mux.Handle("GET /api/v1/consents/validity", h.wrap(h.handleConsentValidity))
	mux.Handle("POST /api/v1/retention/records", h.wrap(h.handleTrackRecord))
	mux.Handle("POST /api/v1/retention/sweep", h.wrap(h.handleRetentionSweep))
	mux.Handle("GET /api/v1/audit/events", h.wrap(h.handleAuditQuery))
}

// wrap applies request logging and body limits to a handler.
func (h *Handler) wrap(fn http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
		fn(w, r)
		h.logger.Debug("request handled",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}

type checkRequest struct {
	Operation      string                     `json:"operation"`
	ActorID        string                     `json:"actor_id"`
	ActorRole      string                     `json:"actor_role"`
	Classification compliance.Classification  `json:"classification"`
	Payload        map[string]interface{}     `json:"payload"`
	GDPR           *compliance.GDPRFacts      `json:"gdpr"`
	Records        *compliance.RecordControls `json:"records"`
}

type checkResponse struct {
	Allowed   bool                `json:"allowed"`
	RiskLevel string              `json:"risk_level"`
	Results   []compliance.Result `json:"results"`
}

func (h *Handler) handleComplianceCheck(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, apperrors.NewValidationError("INVALID_BODY", "request body is not valid JSON"))
		return
	}
	if req.Operation == "" {
		h.writeError(w, apperrors.NewValidationError("MISSING_OPERATION", "operation is required"))
		return
	}

	cctx := compliance.NewContext(req.Operation, req.Classification)
	cctx.ActorID = req.ActorID
	cctx.ActorRole = req.ActorRole
	cctx.Payload = req.Payload
	cctx.GDPR = req.GDPR
	cctx.Records = req.Records

	results, err := h.engine.Enforce(r.Context(), cctx)
	resp := checkResponse{
		Allowed:   err == nil,
		RiskLevel: compliance.AggregateRisk(results).String(),
		Results:   results,
	}
	if err != nil && !errors.Is(err, compliancesvc.ErrCriticalViolation) {
		h.writeError(w, err)
		return
	}

	status := http.StatusOK
	if !resp.Allowed {
		// The check itself succeeded; the operation it guards is what gets
		// refused.
		status = http.StatusUnprocessableEntity
	}
	h.writeJSON(w, status, resp)
}

func (h *Handler) handleListRules(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"rules": h.engine.Rules()})
}

func (h *Handler) handleComplianceReport(w http.ResponseWriter, r *http.Request) {
	start, err := parseTimeParam(r, "start")
	if err != nil {
		h.writeError(w, err)
		return
	}
	end, err := parseTimeParam(r, "end")
	if err != nil {
		h.writeError(w, err)
		return
	}

	var standards []compliance.Standard
	if raw := r.URL.Query().Get("standards"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			standard := compliance.Standard(strings.TrimSpace(s))
			if !standard.Valid() {
				h.writeError(w, apperrors.NewValidationError("INVALID_STANDARD",
					"unknown standard: "+string(standard)))
				return
			}
			standards = append(standards, standard)
		}
	}

	report, err := h.reporter.GenerateComplianceReport(r.Context(), start, end, standards)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, report)
}

func (h *Handler) handleRecordConsent(w http.ResponseWriter, r *http.Request) {
	var draft consent.Record
	if err := json.NewDecoder(r.Body).Decode(&draft); err != nil {
		h.writeError(w, apperrors.NewValidationError("INVALID_BODY", "request body is not valid JSON"))
		return
	}

	id, err := h.consents.RecordConsent(r.Context(), draft)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]string{"id": id.String()})
}

func (h *Handler) handleListConsents(w http.ResponseWriter, r *http.Request) {
	subjectID := r.URL.Query().Get("subject_id")
	var consentType *consent.Type
	if raw := r.URL.Query().Get("type"); raw != "" {
		t := consent.Type(raw)
		consentType = &t
	}

	records, err := h.consents.GetConsent(r.Context(), subjectID, consentType)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"consents": records})
}

func (h *Handler) handleConsentValidity(w http.ResponseWriter, r *http.Request) {
	subjectID := r.URL.Query().Get("subject_id")
	if subjectID == "" {
		h.writeError(w, apperrors.NewValidationError("MISSING_SUBJECT_ID", "subject_id is required"))
		return
	}
	consentType := consent.Type(r.URL.Query().Get("type"))
	if !consentType.Valid() {
		h.writeError(w, apperrors.NewValidationError("INVALID_CONSENT_TYPE", "type is not a recognized consent type"))
		return
	}

	valid, err := h.consents.IsConsentValid(r.Context(), subjectID, consentType)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]bool{"valid": valid})
}

func (h *Handler) handleTrackRecord(w http.ResponseWriter, r *http.Request) {
	var record retention.TrackedRecord
	if err := json.NewDecoder(r.Body).Decode(&record); err != nil {
		h.writeError(w, apperrors.NewValidationError("INVALID_BODY", "request body is not valid JSON"))
		return
	}

	id, err := h.retention.TrackRecord(r.Context(), record)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]string{"id": id.String()})
}

func (h *Handler) handleRetentionSweep(w http.ResponseWriter, r *http.Request) {
	summary, err := h.retention.EvaluateRetention(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) handleAuditQuery(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := audit.QueryFilter{
		ActorID:   q.Get("actor_id"),
		Operation: q.Get("operation"),
		Resource:  q.Get("resource"),
		Outcome:   audit.Outcome(q.Get("outcome")),
	}
	if raw := q.Get("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			h.writeError(w, apperrors.NewValidationError("INVALID_TIME", "from must be RFC3339"))
			return
		}
		filter.From = &t
	}
	if raw := q.Get("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			h.writeError(w, apperrors.NewValidationError("INVALID_TIME", "to must be RFC3339"))
			return
		}
		filter.To = &t
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			h.writeError(w, apperrors.NewValidationError("INVALID_LIMIT", "limit must be a non-negative integer"))
			return
		}
		filter.Limit = limit
	}

	eventList, err := h.auditTrail.Query(r.Context(), filter)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"events": eventList})
}

func parseTimeParam(r *http.Request, name string) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, apperrors.NewValidationError("MISSING_PARAM", name+" is required")
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, apperrors.NewValidationError("INVALID_TIME", name+" must be RFC3339")
	}
	return t, nil
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Warn("failed to write response", zap.Error(err))
	}
}

// writeError maps the application error taxonomy onto HTTP statuses.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := "INTERNAL_ERROR"
	message := "internal error"

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		code = appErr.Code
		message = appErr.Message
		switch {
		case code == "NOT_FOUND":
			status = http.StatusNotFound
		case strings.HasPrefix(code, "MISSING_") || strings.HasPrefix(code, "INVALID_"):
			status = http.StatusBadRequest
		case code == "COMPLIANCE_CRITICAL":
			status = http.StatusUnprocessableEntity
		}
	}

	h.writeJSON(w, status, map[string]string{"code": code, "message": message})
}
