package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/BadgerOps/clinicvault/internal/store"
)

const defaultAuditLimit = 50

// CollectionStatusJSON is the JSON representation of one entity table.
type CollectionStatusJSON struct {
	Collection string `json:"collection"`
	Table      string `json:"table"`
	Rows       int    `json:"rows"`
}

// handleAPIStatus returns row counts for every entity table.
func (s *Server) handleAPIStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	response := make([]CollectionStatusJSON, 0)
	for _, e := range store.InsertOrder() {
		n, err := s.store.CountRows(ctx, e.Table)
		if err != nil {
			s.logger.Error("failed to count rows", "table", e.Table, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to read status")
			return
		}
		response = append(response, CollectionStatusJSON{
			Collection: e.Collection,
			Table:      e.Table,
			Rows:       n,
		})
	}

	writeJSON(w, http.StatusOK, response)
}

// auditJSON is the JSON representation of an audit entry.
type auditJSON struct {
	ID          int64           `json:"id"`
	OperationID string          `json:"operation_id"`
	Action      string          `json:"action"`
	Actor       string          `json:"actor"`
	Details     json.RawMessage `json:"details,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// handleAPIAudit returns recent audit entries, newest first.
func (s *Server) handleAPIAudit(w http.ResponseWriter, r *http.Request) {
	limit := defaultAuditLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	entries, err := s.store.ListAudit(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to list audit entries", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	response := make([]auditJSON, 0, len(entries))
	for _, e := range entries {
		item := auditJSON{
			ID:          e.ID,
			OperationID: e.OperationID,
			Action:      e.Action,
			Actor:       e.Actor,
			CreatedAt:   e.CreatedAt,
		}
		if json.Valid([]byte(e.Details)) {
			item.Details = json.RawMessage(e.Details)
		}
		response = append(response, item)
	}

	writeJSON(w, http.StatusOK, response)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
