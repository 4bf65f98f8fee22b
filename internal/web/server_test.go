package web

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/skyfeeder/skyfeeder/internal/alerts"
	"github.com/skyfeeder/skyfeeder/internal/auth"
	"github.com/skyfeeder/skyfeeder/internal/fanout"
	"github.com/skyfeeder/skyfeeder/internal/safety"
	"github.com/skyfeeder/skyfeeder/pkg/adsb"
	"github.com/skyfeeder/skyfeeder/pkg/config"
)

func floatPtr(f float64) *float64 { return &f }

// memRuleStore is an in-memory alerts.Store.
type memRuleStore struct {
	mu      sync.Mutex
	nextID  int64
	rules   map[int64]*alerts.Rule
	history []*alerts.HistoryEntry
}

func newMemRuleStore() *memRuleStore {
	return &memRuleStore{rules: make(map[int64]*alerts.Rule)}
}

func (s *memRuleStore) ListAlertRules(ctx context.Context) ([]*alerts.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*alerts.Rule, 0, len(s.rules))
	for _, r := range s.rules {
		copied := *r
		out = append(out, &copied)
	}
	return out, nil
}

func (s *memRuleStore) CreateAlertRule(ctx context.Context, r *alerts.Rule) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	copied := *r
	copied.ID = s.nextID
	s.rules[copied.ID] = &copied
	return copied.ID, nil
}

func (s *memRuleStore) UpdateAlertRule(ctx context.Context, r *alerts.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rules[r.ID]; !ok {
		return fmt.Errorf("alert rule %d not found", r.ID)
	}
	copied := *r
	s.rules[r.ID] = &copied
	return nil
}

func (s *memRuleStore) DeleteAlertRule(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rules[id]; !ok {
		return fmt.Errorf("alert rule %d not found", id)
	}
	delete(s.rules, id)
	return nil
}

func (s *memRuleStore) TouchAlertRule(ctx context.Context, id int64, triggeredAt time.Time) error {
	return nil
}

func (s *memRuleStore) AppendAlertHistory(ctx context.Context, entry *alerts.HistoryEntry) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, entry)
	return int64(len(s.history)), nil
}

// stubAircraft is a fixed AircraftSource.
type stubAircraft struct {
	observations []*adsb.Observation
}

func (s *stubAircraft) Current() []*adsb.Observation { return s.observations }

func testObservation(icao string) *adsb.Observation {
	return &adsb.Observation{
		ICAO:         icao,
		Callsign:     "TEST123",
		Source:       adsb.Source1090,
		Latitude:     floatPtr(47.6),
		Longitude:    floatPtr(-122.3),
		BaroAltitude: floatPtr(30000),
		SeenAt:       time.Now().UTC(),
	}
}

type testEnv struct {
	server  *Server
	hub     *fanout.Hub
	monitor *safety.Monitor
	engine  *alerts.Engine
	store   *memRuleStore
}

func newTestEnv(jwtSecret string) *testEnv {
	cfg := config.DefaultConfig()
	cfg.Server.JWTSecret = jwtSecret

	hub := fanout.NewHub()
	store := newMemRuleStore()
	engine := alerts.NewEngine(store, hub, nil)
	monitor := safety.NewMonitor(cfg.Safety, nil, hub, nil)
	tokens := auth.NewService(jwtSecret, time.Hour)

	aircraft := &stubAircraft{observations: []*adsb.Observation{testObservation("A12345")}}
	srv := NewServer(cfg, tokens, hub, monitor, engine, nil, aircraft, nil, nil)

	return &testEnv{server: srv, hub: hub, monitor: monitor, engine: engine, store: store}
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("Failed to decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestHealth(t *testing.T) {
	env := newTestEnv("")
	rec := doJSON(t, env.server.Router(), http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["status"] != "ok" {
		t.Errorf("Expected status ok, got %v", body["status"])
	}
}

func TestAircraftEndpoints(t *testing.T) {
	env := newTestEnv("")
	router := env.server.Router()

	rec := doJSON(t, router, http.MethodGet, "/api/v1/aircraft", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["count"].(float64) != 1 {
		t.Errorf("Expected 1 aircraft, got %v", body["count"])
	}

	// Lookup is case-insensitive on the ICAO.
	rec = doJSON(t, router, http.MethodGet, "/api/v1/aircraft/a12345", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 for known aircraft, got %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodGet, "/api/v1/aircraft/FFFFFF", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown aircraft, got %d", rec.Code)
	}
}

func TestStatsEndpoint(t *testing.T) {
	env := newTestEnv("")
	rec := doJSON(t, env.server.Router(), http.MethodGet, "/api/v1/stats", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["aircraft_tracked"].(float64) != 1 {
		t.Errorf("Expected aircraft_tracked 1, got %v", body["aircraft_tracked"])
	}
	if _, ok := body["fanout_subscribers"]; !ok {
		t.Error("Expected fanout_subscribers in stats")
	}
}

func TestSafetyEventLifecycle(t *testing.T) {
	env := newTestEnv("")
	router := env.server.Router()
	ctx := context.Background()

	// Create a live event through the detector path.
	obs := testObservation("A12345")
	obs.Squawk = "7700"
	env.monitor.Check(ctx, []*adsb.Observation{obs}, time.Now().UTC())

	rec := doJSON(t, router, http.MethodGet, "/api/v1/safety/events", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["count"].(float64) != 1 {
		t.Fatalf("Expected 1 safety event, got %v", body["count"])
	}

	rec = doJSON(t, router, http.MethodPost, "/api/v1/safety/events/squawk_emergency:A12345/ack", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 on ack, got %d: %s", rec.Code, rec.Body.String())
	}

	events := env.monitor.Events()
	if len(events) != 1 || !events[0].Acknowledged {
		t.Error("Expected the event to be acknowledged")
	}

	rec = doJSON(t, router, http.MethodPost, "/api/v1/safety/events/squawk_emergency:A12345/unack", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 on unack, got %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodPost, "/api/v1/safety/events/nope/ack", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown event, got %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodDelete, "/api/v1/safety/events/squawk_emergency:A12345", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 on clear, got %d", rec.Code)
	}
	if len(env.monitor.Events()) != 0 {
		t.Error("Expected no events after clear")
	}
}

func TestRuleCRUD(t *testing.T) {
	env := newTestEnv("")
	router := env.server.Router()

	rule := map[string]interface{}{
		"name":     "Military watch",
		"enabled":  true,
		"priority": "warning",
		"field":    "military",
		"operator": "eq",
		"value":    "true",
	}

	rec := doJSON(t, router, http.MethodPost, "/api/v1/alerts/rules", rule)
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	created := decodeBody(t, rec)
	id := int64(created["id"].(float64))
	if id == 0 {
		t.Fatal("Expected a non-zero rule id")
	}

	rec = doJSON(t, router, http.MethodGet, "/api/v1/alerts/rules", nil)
	if body := decodeBody(t, rec); body["count"].(float64) != 1 {
		t.Errorf("Expected 1 rule, got %v", body["count"])
	}

	rule["name"] = "Military watch v2"
	rec = doJSON(t, router, http.MethodPut, fmt.Sprintf("/api/v1/alerts/rules/%d", id), rule)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 on update, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, router, http.MethodDelete, fmt.Sprintf("/api/v1/alerts/rules/%d", id), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 on delete, got %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodDelete, fmt.Sprintf("/api/v1/alerts/rules/%d", id), nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 on double delete, got %d", rec.Code)
	}
}

func TestCreateRuleRejectsInvalidRegex(t *testing.T) {
	env := newTestEnv("")
	rule := map[string]interface{}{
		"name":     "Broken",
		"enabled":  true,
		"field":    "callsign",
		"operator": "regex",
		"value":    "([",
	}
	rec := doJSON(t, env.server.Router(), http.MethodPost, "/api/v1/alerts/rules", rule)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for invalid regex, got %d", rec.Code)
	}
}

func TestAlertHistoryWithoutStore(t *testing.T) {
	env := newTestEnv("")
	rec := doJSON(t, env.server.Router(), http.MethodGet, "/api/v1/alerts/history", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["count"].(float64) != 0 {
		t.Errorf("Expected empty history, got %v", body["count"])
	}
}

func TestAcarsDisabled(t *testing.T) {
	env := newTestEnv("")
	rec := doJSON(t, env.server.Router(), http.MethodGet, "/api/v1/acars/recent", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 with acars disabled, got %d", rec.Code)
	}
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv("test-secret")
	router := env.server.Router()
	tokens := auth.NewService("test-secret", time.Hour)

	rec := doJSON(t, router, http.MethodGet, "/api/v1/aircraft", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("Expected 401 without token, got %d", rec.Code)
	}

	viewerToken, err := tokens.GenerateToken("ops", auth.RoleViewer)
	if err != nil {
		t.Fatalf("Failed to generate token: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/aircraft", nil)
	req.Header.Set("Authorization", "Bearer "+viewerToken)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200 with viewer token, got %d", rr.Code)
	}

	// Mutation routes require the admin role.
	req = httptest.NewRequest(http.MethodDelete, "/api/v1/safety/events", nil)
	req.Header.Set("Authorization", "Bearer "+viewerToken)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("Expected 403 for viewer on admin route, got %d", rr.Code)
	}

	adminToken, err := tokens.GenerateToken("ops", auth.RoleAdmin)
	if err != nil {
		t.Fatalf("Failed to generate token: %v", err)
	}
	req = httptest.NewRequest(http.MethodDelete, "/api/v1/safety/events", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200 for admin, got %d", rr.Code)
	}
}

func TestWebSocketStream(t *testing.T) {
	env := newTestEnv("")
	srv := httptest.NewServer(env.server.Router())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?topics=aircraft"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Failed to dial websocket: %v", err)
	}
	defer conn.Close()
	resp.Body.Close()

	// Wait for the subscription to land before publishing.
	deadline := time.Now().Add(2 * time.Second)
	for env.hub.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	env.hub.Publish("aircraft", "update", map[string]string{"icao": "A12345"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, frame, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Failed to read frame: %v", err)
	}

	var env2 fanout.Envelope
	if err := json.Unmarshal(frame, &env2); err != nil {
		t.Fatalf("Failed to decode frame: %v", err)
	}
	if env2.Topic != "aircraft" || env2.Event != "update" {
		t.Errorf("Unexpected frame %s/%s", env2.Topic, env2.Event)
	}
}

func TestWebSocketTokenQueryParam(t *testing.T) {
	env := newTestEnv("test-secret")
	srv := httptest.NewServer(env.server.Router())
	defer srv.Close()

	base := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	if _, resp, err := websocket.DefaultDialer.Dial(base, nil); err == nil {
		t.Fatal("Expected dial without token to fail")
	} else if resp != nil && resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %d", resp.StatusCode)
	}

	tokens := auth.NewService("test-secret", time.Hour)
	token, err := tokens.GenerateToken("ops", auth.RoleViewer)
	if err != nil {
		t.Fatalf("Failed to generate token: %v", err)
	}

	conn, resp, err := websocket.DefaultDialer.Dial(base+"?token="+token, nil)
	if err != nil {
		t.Fatalf("Expected dial with token to succeed: %v", err)
	}
	conn.Close()
	resp.Body.Close()
}

func TestParseTopics(t *testing.T) {
	tests := []struct {
		raw  string
		want []string
	}{
		{"", []string{"all"}},
		{"  ", []string{"all"}},
		{"aircraft", []string{"aircraft"}},
		{"aircraft, safety", []string{"aircraft", "safety"}},
		{",,", []string{"all"}},
	}
	for _, tt := range tests {
		got := parseTopics(tt.raw)
		if len(got) != len(tt.want) {
			t.Errorf("parseTopics(%q) = %v, want %v", tt.raw, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("parseTopics(%q)[%d] = %q, want %q", tt.raw, i, got[i], tt.want[i])
			}
		}
	}
}
