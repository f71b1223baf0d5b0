package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/opensource-finance/kestrel/internal/assess"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/history"
	"github.com/opensource-finance/kestrel/internal/profile"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/scoring"
	"github.com/opensource-finance/kestrel/internal/tracker"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "api_test.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	c := cache.NewLRUCache(100)
	hist := history.NewService(repo)

	engine, err := rules.NewEngine(hist, 4)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	profiles := profile.NewService(repo, c)
	assessor := assess.NewService(
		repo,
		profiles,
		engine,
		scoring.NewExtractor(hist),
		scoring.NewModel(),
		tracker.New(100),
		nil,
	)

	return NewServer(domain.ServerConfig{Host: "127.0.0.1", Port: 0}, repo, c, assessor, profiles, engine, "test")
}

func doRequest(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func TestAssessEndpoint(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, http.MethodPost, "/assess", map[string]any{
		"userId":           "user-1",
		"amount":           "15000.00",
		"currency":         "USD",
		"merchantCategory": "CRYPTO",
		"isInternational":  true,
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp domain.AssessmentResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}

	if resp.AssessmentID == "" || resp.TxID == "" {
		t.Error("expected generated IDs")
	}
	if resp.Action != domain.ActionBlock && resp.Action != domain.ActionReview {
		t.Errorf("expected high-risk action, got %s", resp.Action)
	}
	if len(resp.Violations) == 0 {
		t.Error("expected violations for a high-risk transaction")
	}
	if resp.Explanation == nil {
		t.Error("expected an explanation")
	}

	// The assessment and transaction are retrievable afterwards.
	got := doRequest(t, s, http.MethodGet, "/assessments/"+resp.AssessmentID, nil)
	if got.Code != http.StatusOK {
		t.Errorf("GET assessment: expected 200, got %d", got.Code)
	}
	got = doRequest(t, s, http.MethodGet, "/transactions/"+resp.TxID, nil)
	if got.Code != http.StatusOK {
		t.Errorf("GET transaction: expected 200, got %d", got.Code)
	}
}

func TestAssessValidation(t *testing.T) {
	s := newTestServer(t)

	cases := []struct {
		name string
		body any
	}{
		{"missing user", map[string]any{"amount": "10.00", "currency": "USD"}},
		{"negative amount", map[string]any{"userId": "u", "amount": "-5.00", "currency": "USD"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doRequest(t, s, http.MethodPost, "/assess", tc.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", rec.Code)
			}
		})
	}

	// Malformed JSON
	req := httptest.NewRequest(http.MethodPost, "/assess", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for malformed JSON, got %d", rec.Code)
	}
}

func TestGetAssessmentNotFound(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/assessments/nonexistent", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}

	rec = doRequest(t, s, http.MethodGet, "/transactions/nonexistent", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestGetProfileForUnknownUser(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/profiles/never-seen", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var p domain.UserRiskProfile
	if err := json.Unmarshal(rec.Body.Bytes(), &p); err != nil {
		t.Fatalf("failed to parse profile: %v", err)
	}
	if p.TotalTransactions != 0 {
		t.Errorf("expected zero-history profile, got %d transactions", p.TotalTransactions)
	}
}

func TestFeedbackAndMetrics(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, http.MethodPost, "/assess", map[string]any{
		"userId":   "user-fb",
		"amount":   "12000.00",
		"currency": "USD",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("assess failed: %d", rec.Code)
	}
	var resp domain.AssessmentResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}

	rec = doRequest(t, s, http.MethodPost, "/feedback", map[string]any{
		"transactionId": resp.TxID,
		"actualFraud":   true,
	})
	if rec.Code != http.StatusAccepted {
		t.Errorf("expected 202, got %d", rec.Code)
	}

	// Missing transaction ID is rejected.
	rec = doRequest(t, s, http.MethodPost, "/feedback", map[string]any{"actualFraud": true})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}

	rec = doRequest(t, s, http.MethodGet, "/model/metrics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics failed: %d", rec.Code)
	}
	var metrics domain.ModelMetrics
	if err := json.Unmarshal(rec.Body.Bytes(), &metrics); err != nil {
		t.Fatalf("failed to parse metrics: %v", err)
	}
	if metrics.SampleCount != 1 || metrics.LabeledCount != 1 {
		t.Errorf("unexpected counts: samples=%d labeled=%d", metrics.SampleCount, metrics.LabeledCount)
	}
	if !metrics.Baseline {
		t.Error("expected baseline metrics below the minimum labeled sample count")
	}
}

func TestRuleEndpoints(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/rules", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list rules failed: %d", rec.Code)
	}
	var listing struct {
		Rules []domain.RuleInfo `json:"rules"`
		Count int               `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &listing); err != nil {
		t.Fatalf("failed to parse listing: %v", err)
	}
	if listing.Count < 11 {
		t.Errorf("expected at least 11 built-in rules, got %d", listing.Count)
	}

	rec = doRequest(t, s, http.MethodGet, "/rules/HIGH_AMOUNT", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 for built-in rule, got %d", rec.Code)
	}
	rec = doRequest(t, s, http.MethodGet, "/rules/NO_SUCH_RULE", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}

	// Create, then reload, then the rule is listed.
	rec = doRequest(t, s, http.MethodPost, "/rules", map[string]any{
		"id":         "LARGE_GROCERY",
		"name":       "Large grocery purchase",
		"expression": `amount >= 1000.0 && merchant_category == "GROCERY"`,
		"riskScore":  0.4,
		"enabled":    true,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create rule failed: %d: %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, s, http.MethodPost, "/rules/reload", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("reload failed: %d", rec.Code)
	}

	rec = doRequest(t, s, http.MethodGet, "/rules/LARGE_GROCERY", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 for custom rule after reload, got %d", rec.Code)
	}

	// Invalid CEL is rejected before persisting.
	rec = doRequest(t, s, http.MethodPost, "/rules", map[string]any{
		"id":         "BROKEN",
		"name":       "Broken",
		"expression": "amount >>> 1",
		"riskScore":  0.4,
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid expression, got %d", rec.Code)
	}
}

func TestHealthEndpoints(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("health failed: %d", rec.Code)
	}
	var health map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &health); err != nil {
		t.Fatalf("failed to parse health: %v", err)
	}
	if health["status"] != "healthy" {
		t.Errorf("expected healthy, got %s", health["status"])
	}

	rec = doRequest(t, s, http.MethodGet, "/ready", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("ready failed: %d", rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/assess", nil)
	req.Header.Set("Origin", "https://example.com")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204 for preflight, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://example.com" {
		t.Errorf("unexpected allow-origin: %s", got)
	}
}
