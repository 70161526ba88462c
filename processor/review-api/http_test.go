package reviewapi

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/c360studio/chronos/event"
	"github.com/c360studio/chronos/fix"
	"github.com/c360studio/chronos/store"
)

var testNow = time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)

// fakeReader serves fix and verification records from in-memory maps.
type fakeReader struct {
	fixes         map[string]*fix.Fix
	verifications map[string]*fix.VerificationRecord
}

func (r *fakeReader) GetFix(_ context.Context, fixID string) (*fix.Fix, uint64, error) {
	f, ok := r.fixes[fixID]
	if !ok {
		return nil, 0, store.ErrNotFound
	}
	return f, 1, nil
}

func (r *fakeReader) ListFixes(_ context.Context) ([]*fix.Fix, error) {
	fixes := make([]*fix.Fix, 0, len(r.fixes))
	for _, f := range r.fixes {
		fixes = append(fixes, f)
	}
	return fixes, nil
}

func (r *fakeReader) GetVerification(_ context.Context, fixID string) (*fix.VerificationRecord, error) {
	record, ok := r.verifications[fixID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return record, nil
}

// fakePublisher records every decision it is asked to publish.
type fakePublisher struct {
	published []*event.Decision
	err       error
}

func (p *fakePublisher) PublishDecision(_ context.Context, d *event.Decision) error {
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, d)
	return nil
}

func reviewFix(id string) *fix.Fix {
	return &fix.Fix{
		FixID:                 id,
		CorrelationID:         "CONF-001",
		Source:                "RULES",
		RiskLevel:             fix.RiskHigh,
		RequiresHumanApproval: true,
		Status:                fix.StatusReviewRequired,
		CreatedAt:             testNow,
	}
}

func setupTestComponent(reader fixReader, decisions decisionPublisher) *Component {
	return &Component{
		name:      "review-api",
		config:    DefaultConfig(),
		logger:    slog.Default(),
		records:   reader,
		decisions: decisions,
	}
}

func TestExtractFixAndEndpoint(t *testing.T) {
	tests := []struct {
		name         string
		path         string
		wantFixID    string
		wantEndpoint string
	}{
		{
			name:         "decision path",
			path:         "/review-api/fixes/FIX-20260314-A1B2C3D4/approve",
			wantFixID:    "FIX-20260314-A1B2C3D4",
			wantEndpoint: "approve",
		},
		{
			name:         "alias prefix",
			path:         "/api/v1/fixes/FIX-20260314-A1B2C3D4/verification",
			wantFixID:    "FIX-20260314-A1B2C3D4",
			wantEndpoint: "verification",
		},
		{
			name:         "with trailing slash",
			path:         "/api/v1/fixes/FIX-20260314-A1B2C3D4/dismiss/",
			wantFixID:    "FIX-20260314-A1B2C3D4",
			wantEndpoint: "dismiss",
		},
		{
			name:         "no endpoint",
			path:         "/api/v1/fixes/FIX-20260314-A1B2C3D4",
			wantFixID:    "FIX-20260314-A1B2C3D4",
			wantEndpoint: "",
		},
		{
			name:         "empty path",
			path:         "",
			wantFixID:    "",
			wantEndpoint: "",
		},
		{
			name:         "no fixes segment",
			path:         "/api/v1/problems/CONF-001",
			wantFixID:    "",
			wantEndpoint: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotFixID, gotEndpoint := extractFixAndEndpoint(tt.path)
			if gotFixID != tt.wantFixID {
				t.Errorf("extractFixAndEndpoint() fixID = %q, want %q", gotFixID, tt.wantFixID)
			}
			if gotEndpoint != tt.wantEndpoint {
				t.Errorf("extractFixAndEndpoint() endpoint = %q, want %q", gotEndpoint, tt.wantEndpoint)
			}
		})
	}
}

func TestCheckDecision(t *testing.T) {
	approved := reviewFix("FIX-APPROVED")
	approved.ApprovedBy = "operator"
	approved.Status = fix.StatusApproved

	rejected := reviewFix("FIX-REJECTED")
	rejected.Status = fix.StatusRejected

	deployed := reviewFix("FIX-DEPLOYED")
	deployed.ApprovedBy = "operator"
	deployed.Status = fix.StatusDeploySucceeded

	rolledBack := reviewFix("FIX-ROLLED")
	rolledBack.Status = fix.StatusRollbackSucceeded

	tests := []struct {
		name          string
		fix           *fix.Fix
		kind          string
		wantDuplicate bool
		wantErr       bool
	}{
		{name: "approve pending review", fix: reviewFix("FIX-1"), kind: event.DecisionApprove},
		{name: "approve already approved", fix: approved, kind: event.DecisionApprove, wantDuplicate: true},
		{name: "approve rejected fix", fix: rejected, kind: event.DecisionApprove, wantErr: true},
		{name: "dismiss pending review", fix: reviewFix("FIX-2"), kind: event.DecisionDismiss},
		{name: "dismiss already rejected", fix: rejected, kind: event.DecisionDismiss, wantDuplicate: true},
		{name: "dismiss deployed fix", fix: deployed, kind: event.DecisionDismiss, wantErr: true},
		{name: "hold pending review", fix: reviewFix("FIX-3"), kind: event.DecisionHold},
		{name: "hold deployed fix", fix: deployed, kind: event.DecisionHold, wantErr: true},
		{name: "rollback deployed fix", fix: deployed, kind: event.DecisionRollback},
		{name: "rollback already rolled back", fix: rolledBack, kind: event.DecisionRollback, wantDuplicate: true},
		{name: "rollback pending review", fix: reviewFix("FIX-4"), kind: event.DecisionRollback, wantErr: true},
		{name: "unknown kind", fix: reviewFix("FIX-5"), kind: "escalate", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			duplicate, err := checkDecision(tt.fix, tt.kind)
			if tt.wantErr {
				if err == nil {
					t.Fatal("checkDecision() expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("checkDecision() error = %v", err)
			}
			if duplicate != tt.wantDuplicate {
				t.Errorf("checkDecision() duplicate = %v, want %v", duplicate, tt.wantDuplicate)
			}
		})
	}
}

func TestHandleDecision(t *testing.T) {
	tests := []struct {
		name           string
		setup          func() *fakeReader
		fixID          string
		endpoint       string
		requestBody    string
		wantStatusCode int
		wantSuccess    bool
		wantErrSubstr  string
		wantPublished  int
		wantDecision   string
		wantDecidedBy  string
		wantReason     string
	}{
		{
			name: "approve publishes decision",
			setup: func() *fakeReader {
				return &fakeReader{fixes: map[string]*fix.Fix{"FIX-1": reviewFix("FIX-1")}}
			},
			fixID:          "FIX-1",
			endpoint:       "approve",
			requestBody:    `{"approved_by":"operator"}`,
			wantStatusCode: http.StatusOK,
			wantSuccess:    true,
			wantPublished:  1,
			wantDecision:   event.DecisionApprove,
			wantDecidedBy:  "operator",
		},
		{
			name: "approve without body defaults decided_by",
			setup: func() *fakeReader {
				return &fakeReader{fixes: map[string]*fix.Fix{"FIX-1": reviewFix("FIX-1")}}
			},
			fixID:          "FIX-1",
			endpoint:       "approve",
			requestBody:    "",
			wantStatusCode: http.StatusOK,
			wantSuccess:    true,
			wantPublished:  1,
			wantDecision:   event.DecisionApprove,
			wantDecidedBy:  "review-api",
		},
		{
			name: "duplicate approve succeeds without publish",
			setup: func() *fakeReader {
				f := reviewFix("FIX-1")
				f.ApprovedBy = "operator"
				f.Status = fix.StatusApproved
				return &fakeReader{fixes: map[string]*fix.Fix{"FIX-1": f}}
			},
			fixID:          "FIX-1",
			endpoint:       "approve",
			requestBody:    `{"approved_by":"operator"}`,
			wantStatusCode: http.StatusOK,
			wantSuccess:    true,
			wantPublished:  0,
		},
		{
			name: "approve unknown fix",
			setup: func() *fakeReader {
				return &fakeReader{fixes: map[string]*fix.Fix{}}
			},
			fixID:          "FIX-MISSING",
			endpoint:       "approve",
			requestBody:    `{"approved_by":"operator"}`,
			wantStatusCode: http.StatusNotFound,
			wantErrSubstr:  "not found",
		},
		{
			name: "approve rejected fix conflicts",
			setup: func() *fakeReader {
				f := reviewFix("FIX-1")
				f.Status = fix.StatusRejected
				return &fakeReader{fixes: map[string]*fix.Fix{"FIX-1": f}}
			},
			fixID:          "FIX-1",
			endpoint:       "approve",
			requestBody:    `{"approved_by":"operator"}`,
			wantStatusCode: http.StatusConflict,
			wantErrSubstr:  "invalid transition",
		},
		{
			name: "dismiss requires reason",
			setup: func() *fakeReader {
				return &fakeReader{fixes: map[string]*fix.Fix{"FIX-1": reviewFix("FIX-1")}}
			},
			fixID:          "FIX-1",
			endpoint:       "dismiss",
			requestBody:    `{"decided_by":"operator"}`,
			wantStatusCode: http.StatusBadRequest,
			wantErrSubstr:  "reason is required",
		},
		{
			name: "dismiss with reason publishes",
			setup: func() *fakeReader {
				return &fakeReader{fixes: map[string]*fix.Fix{"FIX-1": reviewFix("FIX-1")}}
			},
			fixID:          "FIX-1",
			endpoint:       "dismiss",
			requestBody:    `{"reason":"fix is unsafe","decided_by":"operator"}`,
			wantStatusCode: http.StatusOK,
			wantSuccess:    true,
			wantPublished:  1,
			wantDecision:   event.DecisionDismiss,
			wantDecidedBy:  "operator",
			wantReason:     "fix is unsafe",
		},
		{
			name: "hold carries notes as reason",
			setup: func() *fakeReader {
				return &fakeReader{fixes: map[string]*fix.Fix{"FIX-1": reviewFix("FIX-1")}}
			},
			fixID:          "FIX-1",
			endpoint:       "hold",
			requestBody:    `{"notes":"waiting on sector report","decided_by":"operator"}`,
			wantStatusCode: http.StatusOK,
			wantSuccess:    true,
			wantPublished:  1,
			wantDecision:   event.DecisionHold,
			wantDecidedBy:  "operator",
			wantReason:     "waiting on sector report",
		},
		{
			name: "rollback deployed fix publishes",
			setup: func() *fakeReader {
				f := reviewFix("FIX-1")
				f.ApprovedBy = "operator"
				f.Status = fix.StatusDeploySucceeded
				return &fakeReader{fixes: map[string]*fix.Fix{"FIX-1": f}}
			},
			fixID:          "FIX-1",
			endpoint:       "rollback",
			requestBody:    `{"reason":"telemetry regressed","decided_by":"operator"}`,
			wantStatusCode: http.StatusOK,
			wantSuccess:    true,
			wantPublished:  1,
			wantDecision:   event.DecisionRollback,
			wantReason:     "telemetry regressed",
		},
		{
			name: "invalid JSON body",
			setup: func() *fakeReader {
				return &fakeReader{fixes: map[string]*fix.Fix{"FIX-1": reviewFix("FIX-1")}}
			},
			fixID:          "FIX-1",
			endpoint:       "approve",
			requestBody:    `{invalid}`,
			wantStatusCode: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader := tt.setup()
			pub := &fakePublisher{}
			c := setupTestComponent(reader, pub)

			req := httptest.NewRequest(
				http.MethodPost,
				"/api/v1/fixes/"+tt.fixID+"/"+tt.endpoint,
				bytes.NewBufferString(tt.requestBody),
			)
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()

			c.handleFixPath(w, req)

			if w.Code != tt.wantStatusCode {
				t.Errorf("handleFixPath() status = %d, want %d", w.Code, tt.wantStatusCode)
				t.Logf("Response body: %s", w.Body.String())
			}

			if len(pub.published) != tt.wantPublished {
				t.Fatalf("published %d decisions, want %d", len(pub.published), tt.wantPublished)
			}

			if tt.wantPublished > 0 {
				d := pub.published[0]
				if d.FixID != tt.fixID {
					t.Errorf("decision.FixID = %q, want %q", d.FixID, tt.fixID)
				}
				if d.Decision != tt.wantDecision {
					t.Errorf("decision.Decision = %q, want %q", d.Decision, tt.wantDecision)
				}
				if tt.wantDecidedBy != "" && d.DecidedBy != tt.wantDecidedBy {
					t.Errorf("decision.DecidedBy = %q, want %q", d.DecidedBy, tt.wantDecidedBy)
				}
				if tt.wantReason != "" && d.Reason != tt.wantReason {
					t.Errorf("decision.Reason = %q, want %q", d.Reason, tt.wantReason)
				}
			}

			ct := w.Header().Get("Content-Type")
			if ct != "application/json" {
				// Plain-text errors skip the decision envelope.
				return
			}

			var resp decisionResponse
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("Failed to decode response: %v", err)
			}
			if resp.Success != tt.wantSuccess {
				t.Errorf("response.Success = %v, want %v", resp.Success, tt.wantSuccess)
			}
			if tt.wantErrSubstr != "" && !strings.Contains(resp.Error, tt.wantErrSubstr) {
				t.Errorf("response.Error = %q, want substring %q", resp.Error, tt.wantErrSubstr)
			}
		})
	}
}

func TestHandleDecisionMethodNotAllowed(t *testing.T) {
	reader := &fakeReader{fixes: map[string]*fix.Fix{"FIX-1": reviewFix("FIX-1")}}
	c := setupTestComponent(reader, &fakePublisher{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/fixes/FIX-1/approve", nil)
	w := httptest.NewRecorder()

	c.handleFixPath(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET on decision endpoint status = %d, want %d", w.Code, http.StatusMethodNotAllowed)
	}
}

func TestHandleDecisionPublishFailure(t *testing.T) {
	reader := &fakeReader{fixes: map[string]*fix.Fix{"FIX-1": reviewFix("FIX-1")}}
	pub := &fakePublisher{err: context.DeadlineExceeded}
	c := setupTestComponent(reader, pub)

	req := httptest.NewRequest(
		http.MethodPost,
		"/api/v1/fixes/FIX-1/approve",
		bytes.NewBufferString(`{"approved_by":"operator"}`),
	)
	w := httptest.NewRecorder()

	c.handleFixPath(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("publish failure status = %d, want %d", w.Code, http.StatusInternalServerError)
	}

	var resp decisionResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Success {
		t.Error("publish failure reported success")
	}
}

func TestHandleListFixes(t *testing.T) {
	older := reviewFix("FIX-OLDER")
	older.CreatedAt = testNow.Add(-time.Hour)

	deployed := reviewFix("FIX-DEPLOYED")
	deployed.ApprovedBy = "operator"
	deployed.Status = fix.StatusDeploySucceeded

	reader := &fakeReader{fixes: map[string]*fix.Fix{
		"FIX-OLDER":    older,
		"FIX-PENDING":  reviewFix("FIX-PENDING"),
		"FIX-DEPLOYED": deployed,
	}}
	c := setupTestComponent(reader, &fakePublisher{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/fixes", nil)
	w := httptest.NewRecorder()

	c.handleListFixes(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("handleListFixes() status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp fixListResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Count != 3 {
		t.Errorf("count = %d, want 3", resp.Count)
	}
	if resp.Fixes[len(resp.Fixes)-1].FixID != "FIX-OLDER" {
		t.Errorf("oldest fix = %q, want FIX-OLDER last", resp.Fixes[len(resp.Fixes)-1].FixID)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/fixes?status=review_required", nil)
	w = httptest.NewRecorder()

	c.handleListFixes(w, req)

	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode filtered response: %v", err)
	}
	if resp.Count != 2 {
		t.Errorf("filtered count = %d, want 2", resp.Count)
	}
	for _, f := range resp.Fixes {
		if f.Status != fix.StatusReviewRequired {
			t.Errorf("filtered result %s has status %s", f.FixID, f.Status)
		}
	}
}

func TestHandleGetFix(t *testing.T) {
	reader := &fakeReader{fixes: map[string]*fix.Fix{"FIX-1": reviewFix("FIX-1")}}
	c := setupTestComponent(reader, &fakePublisher{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/fixes/FIX-1", nil)
	w := httptest.NewRecorder()

	c.handleFixPath(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("handleFixPath() status = %d, want %d", w.Code, http.StatusOK)
	}

	var got fix.Fix
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if got.FixID != "FIX-1" {
		t.Errorf("fix.FixID = %q, want FIX-1", got.FixID)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/fixes/FIX-MISSING", nil)
	w = httptest.NewRecorder()

	c.handleFixPath(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("unknown fix status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestHandleGetVerification(t *testing.T) {
	record := fix.NewVerificationRecord("FIX-1", 2)
	reader := &fakeReader{
		fixes:         map[string]*fix.Fix{"FIX-1": reviewFix("FIX-1")},
		verifications: map[string]*fix.VerificationRecord{"FIX-1": record},
	}
	c := setupTestComponent(reader, &fakePublisher{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/fixes/FIX-1/verification", nil)
	w := httptest.NewRecorder()

	c.handleFixPath(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("verification status = %d, want %d", w.Code, http.StatusOK)
	}

	var got fix.VerificationRecord
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if got.FixID != "FIX-1" {
		t.Errorf("record.FixID = %q, want FIX-1", got.FixID)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/fixes/FIX-2/verification", nil)
	w = httptest.NewRecorder()

	c.handleFixPath(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("missing verification status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestRegisterHTTPHandlersAlias(t *testing.T) {
	reader := &fakeReader{fixes: map[string]*fix.Fix{"FIX-1": reviewFix("FIX-1")}}
	c := setupTestComponent(reader, &fakePublisher{})

	mux := http.NewServeMux()
	c.RegisterHTTPHandlers("/review-api/", mux)

	for _, path := range []string{"/review-api/fixes/FIX-1", "/api/v1/fixes/FIX-1"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()

		mux.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("GET %s status = %d, want %d", path, w.Code, http.StatusOK)
		}
	}
}

func TestHandlersUnavailableBeforeStart(t *testing.T) {
	c := &Component{
		name:   "review-api",
		config: DefaultConfig(),
		logger: slog.Default(),
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/fixes", nil)
	w := httptest.NewRecorder()

	c.handleListFixes(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("unstarted component status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}
