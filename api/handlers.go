/*
handlers.go - HTTP API handlers for the revenue settlement engine

PURPOSE:
  Exposes the platform's ingest surface (documents, impressions, reading
  sessions, profiles) and the settlement surface (cron trigger, earnings,
  run history) via REST API. Handles HTTP request/response, JSON
  serialization, and delegates to domain logic.

ENDPOINTS:
  Documents:
    GET    /api/documents              List documents
    POST   /api/documents              Register a document
    GET    /api/documents/{id}         Get document details

  Ingest:
    POST   /api/impressions            Log an ad impression
    POST   /api/sessions               Start a reading session
    PUT    /api/sessions/{id}          Session heartbeat (cumulative progress)

  Profiles:
    POST   /api/profiles               Register a profile
    GET    /api/profiles/{id}          Get profile

  Settlement:
    GET    /api/cron/settle            Trigger the monthly settlement run
    GET    /api/authors/{id}/earnings  Author earnings summary
    GET    /api/settlement/runs        Run audit trail

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 401: Missing/bad settlement trigger credentials
  - 404: Resource not found
  - 409: Conflict (run already in progress)
  - 500: Internal errors

AUTHENTICATION:
  Only the settlement trigger is protected, by a shared bearer secret
  (Authorization: Bearer <secret>). An unset secret fails closed.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - settlement/engine.go: The run the trigger kicks off
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pagestream/revenue-engine/settlement"
)

// DefaultRunTimeout bounds a settlement run triggered over HTTP. A breach
// mid-run fails the run; already-settled authors stay settled.
const DefaultRunTimeout = 10 * time.Minute

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store      settlement.Store
	Engine     *settlement.Engine
	CronSecret string
	RunTimeout time.Duration
	Log        *zap.Logger
}

// NewHandler creates a new handler. The cron secret guards the settlement
// trigger; a nil logger gets zap.NewNop().
func NewHandler(store settlement.Store, engine *settlement.Engine, cronSecret string, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		Store:      store,
		Engine:     engine,
		CronSecret: cronSecret,
		RunTimeout: DefaultRunTimeout,
		Log:        log,
	}
}

// =============================================================================
// DOCUMENT HANDLERS
// =============================================================================

// ListDocuments returns all documents.
func (h *Handler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := h.Store.ListDocuments(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list documents", err)
		return
	}

	dtos := make([]DocumentDTO, len(docs))
	for i, d := range docs {
		dtos[i] = documentDTO(d)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateDocument registers a document.
func (h *Handler) CreateDocument(w http.ResponseWriter, r *http.Request) {
	var req CreateDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.AuthorID == "" {
		writeError(w, http.StatusBadRequest, "author_id is required", nil)
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	doc := settlement.Document{
		ID:        req.ID,
		AuthorID:  req.AuthorID,
		Title:     req.Title,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.Store.SaveDocument(r.Context(), doc); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save document", err)
		return
	}
	writeJSON(w, http.StatusCreated, documentDTO(doc))
}

// GetDocument returns a single document.
func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := h.Store.GetDocument(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, settlement.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Document not found", nil)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load document", err)
		return
	}
	writeJSON(w, http.StatusOK, documentDTO(*doc))
}

// =============================================================================
// IMPRESSION HANDLERS
// =============================================================================

// RecordImpression logs one ad impression. Banner impressions are accepted
// and stored; they just never enter revenue.
func (h *Handler) RecordImpression(w http.ResponseWriter, r *http.Request) {
	var req RecordImpressionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.DocumentID == "" {
		writeError(w, http.StatusBadRequest, "document_id is required", nil)
		return
	}
	position := settlement.AdPosition(req.AdPosition)
	if !position.Valid() {
		writeError(w, http.StatusBadRequest, "Unknown ad_position", nil)
		return
	}

	doc, err := h.Store.GetDocument(r.Context(), req.DocumentID)
	if errors.Is(err, settlement.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Document not found", nil)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load document", err)
		return
	}

	imp := settlement.AdImpression{
		ID:         uuid.NewString(),
		DocumentID: doc.ID,
		AuthorID:   doc.AuthorID,
		ViewerID:   req.ViewerID,
		AdType:     req.AdType,
		AdPosition: position,
		PageNumber: req.PageNumber,
		SessionID:  req.SessionID,
		CreatedAt:  time.Now().UTC(),
	}
	if err := h.Store.RecordImpression(r.Context(), imp); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to record impression", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": imp.ID})
}

// =============================================================================
// SESSION HANDLERS
// =============================================================================

// CreateSession starts a reading session.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.DocumentID == "" {
		writeError(w, http.StatusBadRequest, "document_id is required", nil)
		return
	}
	if _, err := h.Store.GetDocument(r.Context(), req.DocumentID); err != nil {
		if errors.Is(err, settlement.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Document not found", nil)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to load document", err)
		return
	}

	now := time.Now().UTC()
	sess := settlement.ReadingSession{
		ID:          uuid.NewString(),
		DocumentID:  req.DocumentID,
		ReaderID:    req.ReaderID,
		CurrentPage: 1,
		LastReadAt:  now,
		CreatedAt:   now,
	}
	if err := h.Store.CreateSession(r.Context(), sess); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create session", err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionDTO(sess))
}

// GetSession returns a session.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.Store.GetSession(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, settlement.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Session not found", nil)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load session", err)
		return
	}
	writeJSON(w, http.StatusOK, sessionDTO(*sess))
}

// Heartbeat advances a session's cumulative progress and accumulates the
// delta onto the document's lifetime reading-time counter. The session's
// reading_time never decreases; a stale heartbeat is accepted but adds
// nothing.
func (h *Handler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	var req HeartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ReadingSecs < 0 {
		writeError(w, http.StatusBadRequest, "reading_time must be non-negative", nil)
		return
	}

	sess, err := h.Store.GetSession(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, settlement.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Session not found", nil)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load session", err)
		return
	}

	delta := req.ReadingSecs - sess.ReadingSecs
	if delta > 0 {
		sess.ReadingSecs = req.ReadingSecs
	}
	if req.CurrentPage > 0 {
		sess.CurrentPage = req.CurrentPage
	}
	sess.LastReadAt = time.Now().UTC()

	if err := h.Store.UpdateSession(r.Context(), *sess); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to update session", err)
		return
	}
	if delta > 0 {
		if err := h.Store.AddReadingTime(r.Context(), sess.DocumentID, delta); err != nil {
			h.Log.Error("accumulating document reading time",
				zap.String("document_id", sess.DocumentID),
				zap.Error(err))
		}
	}
	writeJSON(w, http.StatusOK, sessionDTO(*sess))
}

// =============================================================================
// PROFILE HANDLERS
// =============================================================================

// CreateProfile registers an account profile.
func (h *Handler) CreateProfile(w http.ResponseWriter, r *http.Request) {
	var req CreateProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	p := settlement.Profile{
		ID:          req.ID,
		DisplayName: req.DisplayName,
		IsPremium:   req.IsPremium,
		CreatedAt:   time.Now().UTC(),
	}
	if req.PremiumExpiresAt != nil {
		t, err := time.Parse(time.RFC3339, *req.PremiumExpiresAt)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid premium_expires_at (want RFC3339)", err)
			return
		}
		p.PremiumExpiresAt = &t
	}
	if req.CreatedAt != nil {
		t, err := time.Parse(time.RFC3339, *req.CreatedAt)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid created_at (want RFC3339)", err)
			return
		}
		p.CreatedAt = t
	}

	if err := h.Store.SaveProfile(r.Context(), p); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save profile", err)
		return
	}
	writeJSON(w, http.StatusCreated, profileDTO(p))
}

// GetProfile returns a profile.
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	p, err := h.Store.GetProfile(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, settlement.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Profile not found", nil)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load profile", err)
		return
	}
	writeJSON(w, http.StatusOK, profileDTO(*p))
}

// =============================================================================
// EARNINGS HANDLERS
// =============================================================================

// GetEarnings returns an author's payout state and settlement history.
// The payout_eligible flag compares the pending balance against the
// platform minimum; it does not move money.
func (h *Handler) GetEarnings(w http.ResponseWriter, r *http.Request) {
	authorID := chi.URLParam(r, "id")

	profile, err := h.Store.GetProfile(r.Context(), authorID)
	if errors.Is(err, settlement.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Author not found", nil)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load profile", err)
		return
	}

	limit := 12
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	records, err := h.Store.ListRevenueByAuthor(r.Context(), authorID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load revenue records", err)
		return
	}

	dto := EarningsDTO{
		AuthorID:       authorID,
		Tier:           profile.AuthorTier,
		PendingPayout:  profile.PendingPayout.StringFixed(2),
		PayoutEligible: profile.PendingPayout.GreaterThanOrEqual(settlement.MinimumPayout),
		MinimumPayout:  settlement.MinimumPayout.StringFixed(2),
		Records:        make([]RevenueRecordDTO, len(records)),
	}
	if tier, err := h.Store.GetAuthorTier(r.Context(), authorID); err == nil {
		dto.Tier = tier.Tier
		dto.RevenueShare = tier.RevenueShare.String()
	}
	for i, rec := range records {
		dto.Records[i] = revenueRecordDTO(rec)
	}
	writeJSON(w, http.StatusOK, dto)
}

// =============================================================================
// SETTLEMENT HANDLERS
// =============================================================================

// TriggerSettlement runs the monthly settlement. Protected by the shared
// cron secret; an unset secret fails closed.
func (h *Handler) TriggerSettlement(w http.ResponseWriter, r *http.Request) {
	if h.CronSecret == "" || r.Header.Get("Authorization") != "Bearer "+h.CronSecret {
		writeError(w, http.StatusUnauthorized, "Unauthorized", nil)
		return
	}

	timeout := h.RunTimeout
	if timeout <= 0 {
		timeout = DefaultRunTimeout
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	summary, err := h.Engine.Run(ctx)
	if errors.Is(err, settlement.ErrRunInProgress) {
		writeError(w, http.StatusConflict, "Settlement run already in progress", nil)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Settlement run failed", err)
		return
	}

	resp := SettleResponse{
		Month:   summary.Month,
		Skipped: summary.Skipped,
		Settled: summary.Settled,
	}
	if summary.Skipped {
		resp.Message = "Month already settled"
	} else {
		resp.Message = "Settlement completed"
		resp.Results = make([]AuthorResultDTO, len(summary.Results))
		for i, res := range summary.Results {
			resp.Results[i] = authorResultDTO(res)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListRuns returns the settlement run audit trail, newest first.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	runs, err := h.Store.ListRuns(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list runs", err)
		return
	}

	dtos := make([]RunDTO, len(runs))
	for i, run := range runs {
		dtos[i] = runDTO(run)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	body := map[string]string{"error": message}
	if err != nil {
		body["detail"] = err.Error()
	}
	writeJSON(w, status, body)
}
