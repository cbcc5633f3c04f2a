package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"spinmill/backend/internal/domain"
	"spinmill/backend/internal/lock"
	"spinmill/backend/internal/lotwizard"
	"spinmill/backend/internal/service"
	"spinmill/backend/internal/store"
	"spinmill/backend/internal/weighment"
)

type API struct {
	service       *service.Service
	drafts        *service.Drafts
	hub           *Hub
	allowedOrigin string
	logger        logrus.FieldLogger
}

func New(svc *service.Service, drafts *service.Drafts, hub *Hub, allowedOrigin string, logger logrus.FieldLogger) *API {
	if allowedOrigin == "" {
		allowedOrigin = "*"
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if hub == nil {
		hub = NewHub(logger, allowedOrigin)
	}
	return &API{
		service:       svc,
		drafts:        drafts,
		hub:           hub,
		allowedOrigin: allowedOrigin,
		logger:        logger,
	}
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", a.handleHealth)
	mux.HandleFunc("/api/v1/inward-entries", a.handleInwardEntries)
	mux.HandleFunc("/api/v1/inward-entries/", a.handleInwardEntry)
	mux.HandleFunc("/api/v1/lots", a.handleLots)
	mux.HandleFunc("/api/v1/lots/", a.handleLotActions)
	mux.HandleFunc("/api/v1/audit-logs", a.handleAuditLogs)
	mux.HandleFunc("/api/v1/events", a.handleEvents)
	mux.HandleFunc("/api/v1/lot-drafts", a.handleLotDrafts)
	mux.HandleFunc("/api/v1/lot-drafts/", a.handleLotDraftActions)
	return a.withMiddleware(mux)
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":     true,
		"at":     time.Now().UTC().Format(time.RFC3339),
		"drafts": a.drafts.Len(),
	})
}

func (a *API) handleInwardEntries(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		entries, err := a.service.ListInwardEntries(r.Context())
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, domain.InwardEntryListResponse{InwardEntries: entries})
	case http.MethodPost:
		var req domain.InwardEntryCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		entry, err := a.service.CreateInwardEntry(r.Context(), req)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"inwardEntry": entry})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleInwardEntry(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	segments, err := pathSegments(r, "/api/v1/inward-entries/")
	if err != nil || len(segments) != 1 {
		writeError(w, http.StatusNotFound, errors.New("inward entry not found"))
		return
	}

	entry, err := a.service.GetInwardEntry(r.Context(), segments[0])
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"inwardEntry": entry})
}

func (a *API) handleLots(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		limit := parsePositiveLimit(r.URL.Query().Get("limit"), 50, 200)
		lots, err := a.service.ListLots(r.Context(), strings.TrimSpace(r.URL.Query().Get("inwardId")), limit)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, domain.LotListResponse{Lots: lots})
	case http.MethodPost:
		var req domain.LotCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		lot, err := a.service.CreateLot(r.Context(), req)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, domain.LotResponse{Lot: lot})
	default:
		writeMethodNotAllowed(w)
	}
}

// handleLotActions serves everything under /api/v1/lots/. Lot numbers contain
// slashes, so clients send them path-escaped ("UC%2F26-27%2F0001").
func (a *API) handleLotActions(w http.ResponseWriter, r *http.Request) {
	segments, err := pathSegments(r, "/api/v1/lots/")
	if err != nil || len(segments) == 0 {
		writeError(w, http.StatusBadRequest, errors.New("lot number required"))
		return
	}

	if len(segments) == 1 && segments[0] == "next-number" {
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w)
			return
		}
		lotNo, err := a.service.NextLotNumber(r.Context())
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, domain.NextLotNumberResponse{LotNo: lotNo})
		return
	}

	lotNo := strings.TrimSpace(segments[0])
	if lotNo == "" {
		writeError(w, http.StatusBadRequest, errors.New("lot number required"))
		return
	}

	switch {
	case len(segments) == 1:
		a.handleLot(w, r, lotNo)
	case len(segments) == 2 && segments[1] == "weightments":
		a.handleWeightments(w, r, lotNo)
	case len(segments) == 3 && segments[1] == "weightments" && segments[2] == "register.xlsx":
		a.handleWeightmentRegister(w, r, lotNo)
	default:
		writeError(w, http.StatusNotFound, errors.New("unknown lot action"))
	}
}

func (a *API) handleLot(w http.ResponseWriter, r *http.Request, lotNo string) {
	switch r.Method {
	case http.MethodGet:
		lot, err := a.service.GetLot(r.Context(), lotNo)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, domain.LotResponse{Lot: lot})
	case http.MethodDelete:
		if err := a.service.DeleteLot(r.Context(), lotNo); err != nil {
			a.writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleWeightments(w http.ResponseWriter, r *http.Request, lotNo string) {
	switch r.Method {
	case http.MethodGet:
		rows, err := a.service.ListWeightments(r.Context(), lotNo)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, domain.WeightmentListResponse{LotNo: lotNo, Weightments: rows})
	case http.MethodPost:
		var req struct {
			Weightments []domain.WeightmentCreateRequest `json:"weightments"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		rows, err := a.service.CreateWeightments(r.Context(), lotNo, req.Weightments)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, domain.WeightmentListResponse{LotNo: lotNo, Weightments: rows})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleWeightmentRegister(w http.ResponseWriter, r *http.Request, lotNo string) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	lot, err := a.service.GetLot(r.Context(), lotNo)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}

	buf, err := weightmentRegister(lot)
	if err != nil {
		a.logger.WithError(err).WithField("lot_no", lotNo).Error("build weightment register")
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", registerFilename(lot.LotNo)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	entityType := strings.TrimSpace(r.URL.Query().Get("entityType"))
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500)

	logs, err := a.service.ListAuditLogs(r.Context(), entityType, limit)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, domain.AuditLogListResponse{AuditLogs: logs})
}

func (a *API) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	a.hub.ServeWS(w, r)
}

type draftResponse struct {
	ID       string             `json:"id"`
	Snapshot lotwizard.Snapshot `json:"snapshot"`
}

func (a *API) handleLotDrafts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req struct {
		InwardID string `json:"inwardId"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	id, snap, err := a.drafts.Start(r.Context(), req.InwardID)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, draftResponse{ID: id, Snapshot: snap})
}

func (a *API) handleLotDraftActions(w http.ResponseWriter, r *http.Request) {
	segments, err := pathSegments(r, "/api/v1/lot-drafts/")
	if err != nil || len(segments) == 0 || strings.TrimSpace(segments[0]) == "" {
		writeError(w, http.StatusBadRequest, errors.New("draft id required"))
		return
	}
	id := segments[0]

	if len(segments) == 1 {
		switch r.Method {
		case http.MethodGet:
			wiz, err := a.drafts.Get(id)
			if err != nil {
				a.writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, draftResponse{ID: id, Snapshot: wiz.Snapshot()})
		case http.MethodDelete:
			if err := a.drafts.Discard(id); err != nil {
				a.writeServiceError(w, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			writeMethodNotAllowed(w)
		}
		return
	}

	wiz, err := a.drafts.Get(id)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}

	action := segments[1]
	switch {
	case action == "details" && len(segments) == 2:
		if r.Method != http.MethodPatch {
			writeMethodNotAllowed(w)
			return
		}
		var patch lotwizard.DetailsPatch
		if err := decodeJSON(r, &patch); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		_, err = wiz.UpdateDetails(patch)
	case action == "rows" && len(segments) == 3:
		if r.Method != http.MethodPatch {
			writeMethodNotAllowed(w)
			return
		}
		index, convErr := strconv.Atoi(segments[2])
		if convErr != nil {
			writeError(w, http.StatusBadRequest, errors.New("row index must be a number"))
			return
		}
		var patch lotwizard.RowPatch
		if err := decodeJSON(r, &patch); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		_, err = wiz.EditRow(index, patch)
	case action == "lot-no" && len(segments) == 2:
		if r.Method != http.MethodPatch {
			writeMethodNotAllowed(w)
			return
		}
		var req struct {
			LotNo string `json:"lotNo"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		_, err = wiz.RenumberLot(req.LotNo)
	case (action == "next" || action == "back" || action == "submit") && len(segments) == 2:
		if r.Method != http.MethodPost {
			writeMethodNotAllowed(w)
			return
		}
		switch action {
		case "next":
			err = wiz.Next()
		case "back":
			err = wiz.Back()
		case "submit":
			_, err = wiz.Submit(r.Context())
		}
	default:
		writeError(w, http.StatusNotFound, errors.New("unknown lot draft action"))
		return
	}

	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, draftResponse{ID: id, Snapshot: wiz.Snapshot()})
}

// writeServiceError maps domain errors onto HTTP statuses. Validation style
// errors carry their detail so clients can point at the offending field.
func (a *API) writeServiceError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		a.logger.WithError(err).Error("request failed")
		writeJSON(w, status, map[string]any{"error": "internal server error"})
		return
	}

	body := map[string]any{"error": err.Error()}
	if code := errorCode(err); code != "" {
		body["code"] = code
	}
	var fieldErr *service.ValidationError
	var wizardErr *lotwizard.ValidationErrors
	var mismatch *weighment.MismatchError
	switch {
	case errors.As(err, &fieldErr):
		body["fields"] = fieldErr.Fields
	case errors.As(err, &wizardErr):
		body["errors"] = wizardErr.Errors
	case errors.As(err, &mismatch):
		body["mismatch"] = mismatch
	}
	writeJSON(w, status, body)
}

// errorCode tells apart errors that share a status, so clients can map
// them back onto the store errors.
func errorCode(err error) string {
	switch {
	case errors.Is(err, store.ErrDuplicate):
		return "duplicate"
	case errors.Is(err, store.ErrConflict):
		return "conflict"
	case errors.Is(err, lotwizard.ErrInvalidTransition):
		return "invalid_transition"
	default:
		return ""
	}
}

func statusFor(err error) int {
	var fieldErr *service.ValidationError
	var wizardErr *lotwizard.ValidationErrors
	var mismatch *weighment.MismatchError
	switch {
	case errors.As(err, &fieldErr), errors.Is(err, service.ErrValidation),
		errors.As(err, &wizardErr), errors.As(err, &mismatch):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound), errors.Is(err, service.ErrDraftNotFound):
		return http.StatusNotFound
	case errors.Is(err, lotwizard.ErrInvalidTransition), errors.Is(err, lotwizard.ErrCallInFlight),
		errors.Is(err, lotwizard.ErrDiscarded), errors.Is(err, store.ErrDuplicate),
		errors.Is(err, store.ErrConflict), errors.Is(err, lock.ErrNotObtained):
		return http.StatusConflict
	case errors.Is(err, store.ErrInvalidLot), errors.Is(err, lotwizard.ErrRowIndex):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// pathSegments splits the escaped path after prefix and unescapes each
// segment, keeping "%2F" inside a segment.
func pathSegments(r *http.Request, prefix string) ([]string, error) {
	escaped := r.URL.EscapedPath()
	if !strings.HasPrefix(escaped, prefix) {
		return nil, errors.New("invalid path")
	}
	tail := strings.Trim(strings.TrimPrefix(escaped, prefix), "/")
	if tail == "" {
		return nil, nil
	}
	parts := strings.Split(tail, "/")
	for i, part := range parts {
		unescaped, err := url.PathUnescape(part)
		if err != nil {
			return nil, err
		}
		parts[i] = unescaped
	}
	return parts, nil
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if (r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut) && strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		startedAt := time.Now()
		next.ServeHTTP(w, r)
		a.logger.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"duration": time.Since(startedAt).String(),
		}).Debug("request served")
	})
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return errors.New("request body too large")
		}
		if errors.Is(err, io.EOF) {
			return errors.New("request body required")
		}
		return fmt.Errorf("invalid JSON payload: %w", err)
	}
	return nil
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	if strings.TrimSpace(raw) == "" {
		return fallback
	}

	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	if value > max {
		return max
	}
	return value
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

func writeError(w http.ResponseWriter, status int, err error) {
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		logrus.WithError(err).Error("internal error")
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
