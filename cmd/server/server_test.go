package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/medops/ruleflow/internal/config"
	"github.com/medops/ruleflow/rules"
)

// stubCollaborators record calls without touching any external system.
type stubData struct{}

func (stubData) Write(ctx context.Context, entity string, op rules.DataOperation, payload map[string]any) error {
	return nil
}

type stubNotifier struct {
	mu     sync.Mutex
	pushes int
}

func (n *stubNotifier) Push(ctx context.Context, channels []string, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.pushes++
	return nil
}

func (n *stubNotifier) SendTemplate(ctx context.Context, template, recipient string, vars map[string]any) error {
	return nil
}

type stubAI struct{}

func (stubAI) Analyze(ctx context.Context, payload map[string]any) (map[string]any, error) {
	return map[string]any{}, nil
}

func newTestServer(t *testing.T) (*Server, *stubNotifier) {
	t.Helper()

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("config.Load() failed: %v", err)
	}

	notifier := &stubNotifier{}
	server, err := NewServer(cfg, rules.Collaborators{
		Data:     stubData{},
		Notifier: notifier,
		AI:       stubAI{},
	})
	if err != nil {
		t.Fatalf("NewServer() failed: %v", err)
	}
	return server, notifier
}

func doJSON(t *testing.T, server *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, into any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(into); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
}

func reorderRequest() RuleRequest {
	return RuleRequest{
		Name:    "Low Stock Reorder",
		Trigger: rules.TriggerSpec{Kind: rules.TriggerEvent, EventType: "inventory_low"},
		Conditions: []rules.Condition{
			{Field: "stockQuantity", Operator: rules.OpLessThan, Value: "{{reorderLevel}}"},
		},
		Actions: []rules.Action{
			{Type: rules.ActionCreate, Target: "purchase_order", Payload: map[string]any{"productId": "{{productId}}"}},
			{Type: rules.ActionNotify, Payload: map[string]any{"message": "Reordering {{productId}}", "channels": []any{"ops"}}},
		},
		Active: true,
	}
}

func createRule(t *testing.T, server *Server, req RuleRequest) rules.Rule {
	t.Helper()

	rec := doJSON(t, server, http.MethodPost, "/api/v1/rules", req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create rule status = %d, body: %s", rec.Code, rec.Body.String())
	}
	var created rules.Rule
	decodeBody(t, rec, &created)
	if created.ID == "" {
		t.Fatal("created rule has no ID")
	}
	return created
}

func TestHealthEndpoint(t *testing.T) {
	server, _ := newTestServer(t)

	rec := doJSON(t, server, http.MethodGet, "/api/v1/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("health status = %d", rec.Code)
	}
}

func TestRuleCRUDOverHTTP(t *testing.T) {
	server, _ := newTestServer(t)

	created := createRule(t, server, reorderRequest())

	rec := doJSON(t, server, http.MethodGet, "/api/v1/rules/"+created.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get rule status = %d", rec.Code)
	}
	var got rules.Rule
	decodeBody(t, rec, &got)
	if got.Name != "Low Stock Reorder" {
		t.Errorf("Name = %s", got.Name)
	}

	update := reorderRequest()
	update.Name = "Renamed"
	rec = doJSON(t, server, http.MethodPut, "/api/v1/rules/"+created.ID, update)
	if rec.Code != http.StatusOK {
		t.Fatalf("update rule status = %d, body: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, server, http.MethodGet, "/api/v1/rules", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list rules status = %d", rec.Code)
	}
	var list struct {
		Rules []rules.Rule `json:"rules"`
	}
	decodeBody(t, rec, &list)
	if len(list.Rules) != 1 || list.Rules[0].Name != "Renamed" {
		t.Errorf("list = %+v", list.Rules)
	}

	rec = doJSON(t, server, http.MethodDelete, "/api/v1/rules/"+created.ID, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete rule status = %d", rec.Code)
	}

	rec = doJSON(t, server, http.MethodGet, "/api/v1/rules/"+created.ID, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("get deleted rule status = %d, want 404", rec.Code)
	}
}

func TestCreateRuleValidationFailure(t *testing.T) {
	server, _ := newTestServer(t)

	bad := reorderRequest()
	bad.Name = ""
	rec := doJSON(t, server, http.MethodPost, "/api/v1/rules", bad)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid rule status = %d, want 400", rec.Code)
	}

	rec = doJSON(t, server, http.MethodGet, "/api/v1/rules", nil)
	var list struct {
		Rules []rules.Rule `json:"rules"`
	}
	decodeBody(t, rec, &list)
	if len(list.Rules) != 0 {
		t.Error("invalid rule must not be stored")
	}
}

func TestSubmitEventExecutesMatchingRules(t *testing.T) {
	server, notifier := newTestServer(t)
	createRule(t, server, reorderRequest())

	rec := doJSON(t, server, http.MethodPost, "/api/v1/signals/event", SubmitEventRequest{
		EventType: "inventory_low",
		Payload:   map[string]any{"stockQuantity": 5, "reorderLevel": 10, "productId": "p-1"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("submit event status = %d, body: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Results []rules.ExecutionResult `json:"results"`
	}
	decodeBody(t, rec, &resp)
	if len(resp.Results) != 1 {
		t.Fatalf("results = %+v", resp.Results)
	}
	if !resp.Results[0].Success || resp.Results[0].ExecutedActionCount != 2 {
		t.Errorf("result = %+v, want success with 2 executed actions", resp.Results[0])
	}
	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	if notifier.pushes != 1 {
		t.Errorf("pushes = %d, want 1", notifier.pushes)
	}
}

func TestSubmitEventRequiresEventType(t *testing.T) {
	server, _ := newTestServer(t)

	rec := doJSON(t, server, http.MethodPost, "/api/v1/signals/event", SubmitEventRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing eventType status = %d, want 400", rec.Code)
	}
}

func TestPollEndpoint(t *testing.T) {
	server, _ := newTestServer(t)

	req := RuleRequest{
		Name:    "Error Rate Watch",
		Trigger: rules.TriggerSpec{Kind: rules.TriggerCondition, PollExpression: "state.errorRate > 0.2"},
		Actions: []rules.Action{
			{Type: rules.ActionNotify, Payload: map[string]any{"message": "hot", "channels": []any{"oncall"}}},
		},
		Active: true,
	}
	createRule(t, server, req)

	rec := doJSON(t, server, http.MethodPost, "/api/v1/signals/poll", PollRequest{
		State: map[string]any{"errorRate": 0.35},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("poll status = %d, body: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Signals []rules.Signal `json:"signals"`
	}
	decodeBody(t, rec, &resp)
	if len(resp.Signals) != 1 {
		t.Errorf("signals = %+v, want one match", resp.Signals)
	}
}

func TestToggleEndpoint(t *testing.T) {
	server, _ := newTestServer(t)
	created := createRule(t, server, reorderRequest())

	rec := doJSON(t, server, http.MethodPost, fmt.Sprintf("/api/v1/rules/%s/toggle", created.ID), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("toggle status = %d", rec.Code)
	}
	var toggled rules.Rule
	decodeBody(t, rec, &toggled)
	if toggled.Active {
		t.Error("rule should be inactive after toggle")
	}

	rec = doJSON(t, server, http.MethodPost, "/api/v1/signals/event", SubmitEventRequest{
		EventType: "inventory_low",
		Payload:   map[string]any{"stockQuantity": 5, "reorderLevel": 10},
	})
	var resp struct {
		Results []rules.ExecutionResult `json:"results"`
	}
	decodeBody(t, rec, &resp)
	if len(resp.Results) != 0 {
		t.Errorf("deactivated rule matched: %+v", resp.Results)
	}
}

func TestResolveEndpointRequiresFingerprint(t *testing.T) {
	server, _ := newTestServer(t)
	created := createRule(t, server, reorderRequest())

	rec := doJSON(t, server, http.MethodPost,
		fmt.Sprintf("/api/v1/rules/%s/resolve", created.ID), ResolveRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("resolve without fingerprint status = %d, want 400", rec.Code)
	}

	rec = doJSON(t, server, http.MethodPost,
		fmt.Sprintf("/api/v1/rules/%s/resolve", created.ID), ResolveRequest{Fingerprint: "api-errors"})
	if rec.Code != http.StatusOK {
		t.Errorf("resolve status = %d, want 200", rec.Code)
	}
}

func TestAnalyticsEndpoint(t *testing.T) {
	server, _ := newTestServer(t)
	createRule(t, server, reorderRequest())

	// One executed activation and one conditions-not-met skip.
	doJSON(t, server, http.MethodPost, "/api/v1/signals/event", SubmitEventRequest{
		EventType: "inventory_low",
		Payload:   map[string]any{"stockQuantity": 5, "reorderLevel": 10},
	})
	doJSON(t, server, http.MethodPost, "/api/v1/signals/event", SubmitEventRequest{
		EventType: "inventory_low",
		Payload:   map[string]any{"stockQuantity": 50, "reorderLevel": 10},
	})

	rec := doJSON(t, server, http.MethodGet, "/api/v1/analytics?since_days=7", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("analytics status = %d, body: %s", rec.Code, rec.Body.String())
	}

	var analytics rules.Analytics
	decodeBody(t, rec, &analytics)
	if analytics.TotalExecutions != 2 {
		t.Errorf("TotalExecutions = %d, want 2", analytics.TotalExecutions)
	}
	if analytics.FailedExecutions != 0 {
		t.Errorf("FailedExecutions = %d, want 0", analytics.FailedExecutions)
	}

	rec = doJSON(t, server, http.MethodGet, "/api/v1/analytics?since_days=junk", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad since_days status = %d, want 400", rec.Code)
	}
}

func TestUpdateUnknownRuleIs404(t *testing.T) {
	server, _ := newTestServer(t)

	rec := doJSON(t, server, http.MethodPut, "/api/v1/rules/ghost", reorderRequest())
	if rec.Code != http.StatusNotFound {
		t.Errorf("update unknown rule status = %d, want 404", rec.Code)
	}
}
