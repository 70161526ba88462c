package reviewapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/c360studio/chronos/event"
	"github.com/c360studio/chronos/fix"
	"github.com/c360studio/chronos/store"
)

// maxRequestBodySize limits POST body sizes to prevent DoS.
const maxRequestBodySize = 1 << 20 // 1 MB

// apiPrefix is the stable mount point the review UI expects, independent
// of the component prefix chosen by the service manager.
const apiPrefix = "/api/v1/"

// RegisterHTTPHandlers registers the review surface under the given prefix
// and under the stable /api/v1 alias. Handlers are registered as:
//
//	GET  <prefix>fixes              (filter ?status=)
//	GET  <prefix>fixes/{id}
//	GET  <prefix>fixes/{id}/verification
//	POST <prefix>fixes/{id}/approve
//	POST <prefix>fixes/{id}/hold
//	POST <prefix>fixes/{id}/dismiss
//	POST <prefix>fixes/{id}/rollback
func (c *Component) RegisterHTTPHandlers(prefix string, mux *http.ServeMux) {
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix = prefix + "/"
	}

	mux.HandleFunc(prefix+"fixes", c.handleListFixes)
	mux.HandleFunc(prefix+"fixes/", c.handleFixPath)
	if prefix != apiPrefix {
		mux.HandleFunc(apiPrefix+"fixes", c.handleListFixes)
		mux.HandleFunc(apiPrefix+"fixes/", c.handleFixPath)
	}
}

// decisionRequest is the body accepted by the decision endpoints. Fields
// are endpoint-specific: approve reads approved_by, hold reads notes,
// dismiss and rollback read reason and decided_by.
type decisionRequest struct {
	ApprovedBy string `json:"approved_by,omitempty"`
	DecidedBy  string `json:"decided_by,omitempty"`
	Reason     string `json:"reason,omitempty"`
	Notes      string `json:"notes,omitempty"`
}

// decisionResponse reports whether a decision was accepted for publishing.
type decisionResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// fixListResponse wraps the fix list endpoint payload.
type fixListResponse struct {
	Fixes []*fix.Fix `json:"fixes"`
	Count int        `json:"count"`
}

// endpointDecisionKind maps decision endpoints to decision kinds.
var endpointDecisionKind = map[string]string{
	"approve":  event.DecisionApprove,
	"hold":     event.DecisionHold,
	"dismiss":  event.DecisionDismiss,
	"rollback": event.DecisionRollback,
}

// handleListFixes handles GET <prefix>/fixes with an optional status filter.
func (c *Component) handleListFixes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	records, _ := c.backends()
	if records == nil {
		http.Error(w, "Review store not available", http.StatusServiceUnavailable)
		return
	}

	fixes, err := records.ListFixes(r.Context())
	if err != nil {
		c.logger.Error("Failed to list fixes", "error", err)
		http.Error(w, "Failed to list fixes", http.StatusInternalServerError)
		return
	}

	if statusFilter := r.URL.Query().Get("status"); statusFilter != "" {
		filtered := fixes[:0]
		for _, f := range fixes {
			if string(f.Status) == statusFilter {
				filtered = append(filtered, f)
			}
		}
		fixes = filtered
	}

	// Newest first keeps the pending queue at the top of the review UI.
	sort.Slice(fixes, func(i, j int) bool {
		if !fixes[i].CreatedAt.Equal(fixes[j].CreatedAt) {
			return fixes[i].CreatedAt.After(fixes[j].CreatedAt)
		}
		return fixes[i].FixID < fixes[j].FixID
	})

	writeJSON(w, http.StatusOK, fixListResponse{Fixes: fixes, Count: len(fixes)})
}

// handleFixPath routes GET <prefix>/fixes/{id}[/verification] and
// POST <prefix>/fixes/{id}/{decision}.
func (c *Component) handleFixPath(w http.ResponseWriter, r *http.Request) {
	fixID, endpoint := extractFixAndEndpoint(r.URL.Path)
	if fixID == "" {
		http.Error(w, "Fix id required", http.StatusBadRequest)
		return
	}

	switch endpoint {
	case "":
		c.handleGetFix(w, r, fixID)
	case "verification":
		c.handleGetVerification(w, r, fixID)
	case "approve", "hold", "dismiss", "rollback":
		c.handleDecision(w, r, fixID, endpoint)
	default:
		http.Error(w, "Unknown endpoint", http.StatusNotFound)
	}
}

// handleGetFix handles GET <prefix>/fixes/{id}.
func (c *Component) handleGetFix(w http.ResponseWriter, r *http.Request, fixID string) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	records, _ := c.backends()
	if records == nil {
		http.Error(w, "Review store not available", http.StatusServiceUnavailable)
		return
	}

	f, _, err := records.GetFix(r.Context(), fixID)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "Fix not found", http.StatusNotFound)
		return
	}
	if err != nil {
		c.logger.Error("Failed to get fix", "fix_id", fixID, "error", err)
		http.Error(w, "Failed to retrieve fix", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, f)
}

// handleGetVerification handles GET <prefix>/fixes/{id}/verification.
func (c *Component) handleGetVerification(w http.ResponseWriter, r *http.Request, fixID string) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	records, _ := c.backends()
	if records == nil {
		http.Error(w, "Review store not available", http.StatusServiceUnavailable)
		return
	}

	record, err := records.GetVerification(r.Context(), fixID)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "Verification not found", http.StatusNotFound)
		return
	}
	if err != nil {
		c.logger.Error("Failed to get verification", "fix_id", fixID, "error", err)
		http.Error(w, "Failed to retrieve verification", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, record)
}

// handleDecision validates a decision against the current record and
// publishes it for the coordinator. The record itself is never written
// here; the coordinator applies the decision authoritatively.
func (c *Component) handleDecision(w http.ResponseWriter, r *http.Request, fixID, endpoint string) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req decisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	kind := endpointDecisionKind[endpoint]

	decidedBy := req.DecidedBy
	if kind == event.DecisionApprove && req.ApprovedBy != "" {
		decidedBy = req.ApprovedBy
	}
	if decidedBy == "" {
		decidedBy = "review-api"
	}

	reason := req.Reason
	if kind == event.DecisionHold {
		reason = req.Notes
	}
	if kind == event.DecisionDismiss && reason == "" {
		writeJSON(w, http.StatusBadRequest, decisionResponse{
			Success: false,
			Error:   "reason is required to dismiss a fix",
		})
		return
	}

	records, decisions := c.backends()
	if records == nil || decisions == nil {
		http.Error(w, "Review store not available", http.StatusServiceUnavailable)
		return
	}

	f, _, err := records.GetFix(r.Context(), fixID)
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, decisionResponse{
			Success: false,
			Error:   fmt.Sprintf("fix %s not found", fixID),
		})
		return
	}
	if err != nil {
		c.logger.Error("Failed to get fix", "fix_id", fixID, "error", err)
		http.Error(w, "Failed to retrieve fix", http.StatusInternalServerError)
		return
	}

	duplicate, err := checkDecision(f, kind)
	if err != nil {
		writeJSON(w, http.StatusConflict, decisionResponse{Success: false, Error: err.Error()})
		return
	}
	if duplicate {
		c.logger.Debug("Duplicate decision accepted without publish",
			"fix_id", fixID, "decision", kind)
		writeJSON(w, http.StatusOK, decisionResponse{Success: true})
		return
	}

	d := &event.Decision{
		FixID:     fixID,
		Decision:  kind,
		Reason:    reason,
		DecidedBy: decidedBy,
		DecidedAt: time.Now().UTC(),
	}
	if err := decisions.PublishDecision(r.Context(), d); err != nil {
		c.logger.Error("Failed to publish decision",
			"fix_id", fixID, "decision", kind, "error", err)
		writeJSON(w, http.StatusInternalServerError, decisionResponse{
			Success: false,
			Error:   "failed to publish decision",
		})
		return
	}

	c.logger.Info("Decision published",
		"fix_id", fixID,
		"decision", kind,
		"decided_by", decidedBy)

	writeJSON(w, http.StatusOK, decisionResponse{Success: true})
}

// checkDecision classifies a decision against the current record before
// publishing: duplicate=true means the decision was already applied and
// the caller succeeds without publishing; an error means the decision
// conflicts with the record's state.
func checkDecision(f *fix.Fix, kind string) (duplicate bool, err error) {
	switch kind {
	case event.DecisionApprove:
		if f.ApprovedBy != "" {
			return true, nil
		}
		if f.Status != fix.StatusReviewRequired {
			return false, &fix.InvalidTransitionError{FixID: f.FixID, From: f.Status, To: fix.StatusApproved}
		}
	case event.DecisionDismiss:
		if f.Status == fix.StatusRejected {
			return true, nil
		}
		if f.Status != fix.StatusReviewRequired {
			return false, &fix.InvalidTransitionError{FixID: f.FixID, From: f.Status, To: fix.StatusRejected}
		}
	case event.DecisionHold:
		if f.Status != fix.StatusReviewRequired {
			return false, fmt.Errorf("fix %s: hold applies to review_required, current status is %s", f.FixID, f.Status)
		}
	case event.DecisionRollback:
		if f.Status == fix.StatusRollbackRequested || f.Status == fix.StatusRollbackSucceeded {
			return true, nil
		}
		if !f.Status.CanTransition(fix.StatusRollbackRequested) {
			return false, &fix.InvalidTransitionError{FixID: f.FixID, From: f.Status, To: fix.StatusRollbackRequested}
		}
	default:
		return false, fmt.Errorf("unknown decision %q", kind)
	}
	return false, nil
}

// extractFixAndEndpoint parses paths like <prefix>/fixes/{id}/approve.
func extractFixAndEndpoint(path string) (fixID, endpoint string) {
	idx := strings.Index(path, "/fixes/")
	if idx == -1 {
		return "", ""
	}

	remainder := path[idx+len("/fixes/"):]

	parts := strings.SplitN(remainder, "/", 2)
	if len(parts) == 0 {
		return "", ""
	}

	fixID = parts[0]
	if len(parts) > 1 {
		endpoint = strings.TrimSuffix(parts[1], "/")
	}

	return fixID, endpoint
}

// writeJSON marshals v as JSON and writes it to w with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Response is already partially written; nothing to recover.
		_ = err
	}
}
