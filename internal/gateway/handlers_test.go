package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/promptgate/promptgate/internal/config"
	"github.com/promptgate/promptgate/internal/decision"
	"github.com/promptgate/promptgate/internal/dlp"
	"github.com/promptgate/promptgate/internal/logger"
	"github.com/promptgate/promptgate/internal/store"
)

type stubDecisions struct {
	evaluateResp *decision.Response
	evaluateErr  error
	approvalErr  error
	statusResp   *decision.ApprovalStatus
	statusErr    error
}

func (s *stubDecisions) Evaluate(_ context.Context, _ *decision.Request) (*decision.Response, error) {
	return s.evaluateResp, s.evaluateErr
}

func (s *stubDecisions) CreateApprovalCase(_ context.Context, _ *decision.CreateApprovalRequest) (*decision.ApprovalCaseInfo, error) {
	if s.approvalErr != nil {
		return nil, s.approvalErr
	}
	return &decision.ApprovalCaseInfo{CaseID: "case-1", Status: store.ApprovalPending}, nil
}

func (s *stubDecisions) GetApprovalCaseStatus(_ context.Context, _ string) (*decision.ApprovalStatus, error) {
	return s.statusResp, s.statusErr
}

func (s *stubDecisions) RecordUserAction(_ map[string]interface{}) decision.Ack {
	return decision.Ack{OK: true}
}

func (s *stubDecisions) Ping() decision.Ping {
	return decision.Ping{OK: true, Version: decision.Version}
}

func newTestServer(t *testing.T, stub DecisionService, mutate func(*config.Config)) *Server {
	t.Helper()

	cfg := config.GetDefaults()
	cfg.RateLimit.Enabled = false
	if mutate != nil {
		mutate(cfg)
	}

	log, err := logger.New(logger.Config{Level: "error", Format: "console"})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}

	profiles := dlp.NewProfileRegistry()
	classifier := dlp.NewClassifier(profiles, log.Logger)

	srv, err := New(cfg, log, stub, classifier, profiles, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return srv
}

func doJSON(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func TestHandleHealth(t *testing.T) {
	srv := newTestServer(t, &stubDecisions{}, nil)
	rec := doJSON(t, srv, "GET", "/health", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("bad body: %v", err)
	}
	if body["status"] != "healthy" {
		t.Errorf("unexpected status %q", body["status"])
	}
}

func TestHandleDetect(t *testing.T) {
	srv := newTestServer(t, &stubDecisions{}, nil)

	rec := doJSON(t, srv, "POST", "/v1/detect",
		`{"text":"메일 john@example.com 으로 보내주세요"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Findings     []dlp.Finding     `json:"findings"`
		DetectorHits []dlp.DetectorHit `json:"detector_hits"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad body: %v", err)
	}
	found := false
	for _, f := range resp.Findings {
		if f.Type == dlp.TypeEmail {
			found = true
		}
	}
	if !found {
		t.Errorf("expected email finding, got %+v", resp.Findings)
	}
	if len(resp.DetectorHits) == 0 {
		t.Error("expected detector hits")
	}
}

func TestHandleDetectRejectsUnknownType(t *testing.T) {
	srv := newTestServer(t, &stubDecisions{}, nil)
	rec := doJSON(t, srv, "POST", "/v1/detect",
		`{"text":"x","enabled_types":["PII_UNKNOWN"]}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleMask(t *testing.T) {
	srv := newTestServer(t, &stubDecisions{}, nil)

	rec := doJSON(t, srv, "POST", "/v1/mask",
		`{"text":"메일 john@example.com 으로"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		MaskedText   string `json:"masked_text"`
		AppliedCount int    `json:"applied_count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad body: %v", err)
	}
	if !strings.Contains(resp.MaskedText, "john@***.***") {
		t.Errorf("expected domain hidden, got %q", resp.MaskedText)
	}
	if resp.AppliedCount != 1 {
		t.Errorf("expected 1 applied span, got %d", resp.AppliedCount)
	}
}

func TestHandleAnonymize(t *testing.T) {
	srv := newTestServer(t, &stubDecisions{}, nil)

	rec := doJSON(t, srv, "POST", "/v1/anonymize",
		`{"text":"번호 010-1234-5678 입니다"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		MaskedText string `json:"masked_text"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad body: %v", err)
	}
	if strings.Contains(resp.MaskedText, "010-1234-5678") {
		t.Errorf("expected mobile number replaced, got %q", resp.MaskedText)
	}
}

func TestHandleProfiles(t *testing.T) {
	srv := newTestServer(t, &stubDecisions{}, nil)
	rec := doJSON(t, srv, "GET", "/v1/profiles", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp struct {
		Profiles []dlp.DetectionProfile `json:"profiles"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad body: %v", err)
	}
	if len(resp.Profiles) != 6 {
		t.Errorf("expected 6 builtin profiles, got %d", len(resp.Profiles))
	}
}

func TestHandleRegisterProfile(t *testing.T) {
	srv := newTestServer(t, &stubDecisions{}, nil)

	rec := doJSON(t, srv, "POST", "/v1/profiles",
		`{"name":"CUSTOM","label":"Custom","enabledTypes":["PII_EMAIL","PII_MOBILE"]}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	list := doJSON(t, srv, "GET", "/v1/profiles", "")
	var resp struct {
		Profiles []dlp.DetectionProfile `json:"profiles"`
	}
	if err := json.Unmarshal(list.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad body: %v", err)
	}
	if len(resp.Profiles) != 7 {
		t.Errorf("expected 7 profiles after register, got %d", len(resp.Profiles))
	}

	t.Run("missing name rejected", func(t *testing.T) {
		rec := doJSON(t, srv, "POST", "/v1/profiles", `{"label":"x"}`)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("unknown type rejected", func(t *testing.T) {
		rec := doJSON(t, srv, "POST", "/v1/profiles",
			`{"name":"BAD","enabledTypes":["PII_UNKNOWN"]}`)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("unknown mask config key rejected", func(t *testing.T) {
		rec := doJSON(t, srv, "POST", "/v1/profiles",
			`{"name":"BAD","enabledTypes":["PII_EMAIL"],"defaultMaskConfig":{"PII_BOGUS":"full_masked"}}`)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("re-register replaces", func(t *testing.T) {
		rec := doJSON(t, srv, "POST", "/v1/profiles",
			`{"name":"CUSTOM","label":"Custom v2","enabledTypes":["PII_EMAIL"]}`)
		if rec.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d", rec.Code)
		}
		p, ok := srv.profiles.Get("CUSTOM")
		if !ok || p.Label != "Custom v2" || len(p.EnabledTypes) != 1 {
			t.Errorf("expected replaced profile, got %+v", p)
		}
	})
}

func TestHandleDecision(t *testing.T) {
	stub := &stubDecisions{
		evaluateResp: &decision.Response{
			DecisionID: "dec-1",
			EventID:    "evt-1",
			Outcome:    "BLOCK",
			RiskScore:  40,
		},
	}
	srv := newTestServer(t, stub, nil)

	rec := doJSON(t, srv, "POST", "/v1/decision",
		`{"trace_id":"t1","event":{"type":"PASTE","app":{"domain":"chat.example.com"}},"content":{"kind":"TEXT","length":5}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp decision.Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad body: %v", err)
	}
	if resp.Outcome != "BLOCK" || resp.DecisionID != "dec-1" {
		t.Errorf("unexpected response %+v", resp)
	}

	t.Run("missing domain rejected", func(t *testing.T) {
		rec := doJSON(t, srv, "POST", "/v1/decision",
			`{"trace_id":"t1","event":{"type":"PASTE","app":{}},"content":{"kind":"TEXT"}}`)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("invalid json rejected", func(t *testing.T) {
		rec := doJSON(t, srv, "POST", "/v1/decision", `{`)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
	})
}

func TestHandleDecisionTenantMissing(t *testing.T) {
	stub := &stubDecisions{
		evaluateErr: fmt.Errorf("tenant %q: %w", "PoC Tenant", store.ErrNotFound),
	}
	srv := newTestServer(t, stub, nil)

	rec := doJSON(t, srv, "POST", "/v1/decision",
		`{"trace_id":"t1","event":{"type":"PASTE","app":{"domain":"chat.example.com"}},"content":{"kind":"TEXT"}}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}

	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("bad body: %v", err)
	}
	if envelope.Error.Code != "NOT_FOUND" {
		t.Errorf("unexpected error code %q", envelope.Error.Code)
	}
}

func TestHandleCreateApproval(t *testing.T) {
	srv := newTestServer(t, &stubDecisions{}, nil)

	rec := doJSON(t, srv, "POST", "/v1/approvals",
		`{"event_id":"evt-1","decision_id":"dec-1"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	t.Run("payload invalid maps to 422", func(t *testing.T) {
		stub := &stubDecisions{
			approvalErr: fmt.Errorf("event evt-x: %w", decision.ErrPayloadInvalid),
		}
		srv := newTestServer(t, stub, nil)
		rec := doJSON(t, srv, "POST", "/v1/approvals",
			`{"event_id":"evt-x","decision_id":"dec-1"}`)
		if rec.Code != http.StatusUnprocessableEntity {
			t.Errorf("expected 422, got %d", rec.Code)
		}
	})

	t.Run("missing ids rejected", func(t *testing.T) {
		rec := doJSON(t, srv, "POST", "/v1/approvals", `{"event_id":"evt-1"}`)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
	})
}

func TestHandleApprovalStatusNotFound(t *testing.T) {
	stub := &stubDecisions{
		statusErr: fmt.Errorf("approval case missing: %w", store.ErrNotFound),
	}
	srv := newTestServer(t, stub, nil)

	rec := doJSON(t, srv, "GET", "/v1/approvals/missing", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHandleUserAction(t *testing.T) {
	srv := newTestServer(t, &stubDecisions{}, nil)
	rec := doJSON(t, srv, "POST", "/v1/decision/user-action", `{"action":"dismissed"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var ack decision.Ack
	if err := json.Unmarshal(rec.Body.Bytes(), &ack); err != nil || !ack.OK {
		t.Errorf("expected ok ack, got %s", rec.Body.String())
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	srv := newTestServer(t, &stubDecisions{}, func(cfg *config.Config) {
		cfg.RateLimit.Enabled = true
		cfg.RateLimit.RequestsPerSecond = 0.001
		cfg.RateLimit.Burst = 1
	})

	first := doJSON(t, srv, "GET", "/v1/ping", "")
	if first.Code != http.StatusOK {
		t.Fatalf("expected first request allowed, got %d", first.Code)
	}

	second := doJSON(t, srv, "GET", "/v1/ping", "")
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", second.Code)
	}
}
