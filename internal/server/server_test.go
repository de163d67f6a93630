package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	json "github.com/goccy/go-json"

	apperrors "github.com/moodsync/platform/internal/errors"
	"github.com/moodsync/platform/internal/inference"
	"github.com/moodsync/platform/internal/mood"
	"github.com/moodsync/platform/internal/orchestrator"
	"github.com/moodsync/platform/internal/pipeline"
	"github.com/moodsync/platform/internal/trace"
)

// mockMood records calls and serves canned results.
type mockMood struct {
	result  pipeline.Result
	current *orchestrator.Current
	events  chan orchestrator.Event
	selects []string
}

func newMockMood() *mockMood {
	return &mockMood{
		result: pipeline.Result{ID: "inv", Signal: mood.Signal{Label: "Happy", ConfidencePercent: 92}, Degraded: true},
		events: make(chan orchestrator.Event, 4),
	}
}

func (m *mockMood) Detect(context.Context) (pipeline.Result, error) { return m.result, nil }

func (m *mockMood) Select(_ context.Context, label string) (orchestrator.Current, error) {
	m.selects = append(m.selects, label)
	e, ok := mood.Lookup(label)
	if !ok {
		return orchestrator.Current{}, apperrors.Newf(apperrors.CodeInvalidArgument, "unknown mood %q", label)
	}
	c := orchestrator.Current{Signal: mood.Signal{Label: string(e), ConfidencePercent: mood.ManualConfidence}, Source: orchestrator.SourceManual}
	m.current = &c
	return c, nil
}

func (m *mockMood) Current() (orchestrator.Current, bool) {
	if m.current == nil {
		return orchestrator.Current{}, false
	}
	return *m.current, true
}

func (m *mockMood) Events() (<-chan orchestrator.Event, func()) { return m.events, func() {} }

type mockHealth struct {
	h   inference.Health
	err error
}

func (m mockHealth) Health(context.Context) (inference.Health, error) { return m.h, m.err }

func newTestServer(m MoodService, h HealthChecker) http.Handler {
	return New(m, h, Options{RateLimitRequests: 2, RateLimitWindow: time.Minute}).Handler()
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.RemoteAddr = "192.0.2.1:1234"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestDetectReturnsOnlySignal(t *testing.T) {
	h := newTestServer(newMockMood(), mockHealth{})
	rec := do(t, h, http.MethodPost, "/api/mood/detect", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if got := strings.TrimSpace(rec.Body.String()); got != `{"label":"Happy","confidencePercent":92}` {
		t.Errorf("body = %s", got)
	}
	if rec.Header().Get(trace.TraceIDKey) == "" {
		t.Error("missing trace header on response")
	}
}

func TestDetectRateLimited(t *testing.T) {
	h := newTestServer(newMockMood(), mockHealth{})
	for i := 0; i < 2; i++ {
		if rec := do(t, h, http.MethodPost, "/api/mood/detect", ""); rec.Code != http.StatusOK {
			t.Fatalf("request %d status = %d", i, rec.Code)
		}
	}
	if rec := do(t, h, http.MethodPost, "/api/mood/detect", ""); rec.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusTooManyRequests)
	}
}

func TestSelect(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantLabel  string
		wantCode   apperrors.Code
	}{
		{"canonical", `{"mood":"Calm"}`, http.StatusOK, "Calm", ""},
		{"lower case", `{"mood":"fearful"}`, http.StatusOK, "Fearful", ""},
		{"unknown", `{"mood":"Bored"}`, http.StatusBadRequest, "", apperrors.CodeInvalidArgument},
		{"malformed", `{"mood":`, http.StatusBadRequest, "", apperrors.CodeInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestServer(newMockMood(), mockHealth{})
			rec := do(t, h, http.MethodPost, "/api/mood/select", tt.body)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if tt.wantCode != "" {
				if got := decode[ErrorResponse](t, rec); got.Error.Code != tt.wantCode {
					t.Errorf("error code = %s, want %s", got.Error.Code, tt.wantCode)
				}
				return
			}
			got := decode[mood.Signal](t, rec)
			if got.Label != tt.wantLabel || got.ConfidencePercent != mood.ManualConfidence {
				t.Errorf("signal = %+v, want %s/%d", got, tt.wantLabel, mood.ManualConfidence)
			}
		})
	}
}

func TestSelectRejectsInvalidBody(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing", `{}`},
		{"empty", `{"mood":""}`},
		{"too long", `{"mood":"` + strings.Repeat("x", 40) + `"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newMockMood()
			rec := do(t, newTestServer(m, mockHealth{}), http.MethodPost, "/api/mood/select", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
			}
			if got := decode[ErrorResponse](t, rec); got.Error.Code != apperrors.CodeInvalidArgument {
				t.Errorf("error code = %s, want %s", got.Error.Code, apperrors.CodeInvalidArgument)
			}
			if len(m.selects) != 0 {
				t.Errorf("Select called with %v, want no call", m.selects)
			}
		})
	}
}

func TestCurrent(t *testing.T) {
	m := newMockMood()
	h := newTestServer(m, mockHealth{})

	if rec := do(t, h, http.MethodGet, "/api/mood", ""); rec.Code != http.StatusNotFound {
		t.Errorf("status before any mood = %d, want %d", rec.Code, http.StatusNotFound)
	}

	do(t, h, http.MethodPost, "/api/mood/select", `{"mood":"Sad"}`)
	rec := do(t, h, http.MethodGet, "/api/mood", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if got := decode[mood.Signal](t, rec); got.Label != "Sad" {
		t.Errorf("current = %+v, want Sad", got)
	}
}

func TestEmotions(t *testing.T) {
	rec := do(t, newTestServer(newMockMood(), mockHealth{}), http.MethodGet, "/api/emotions", "")
	got := decode[EmotionsResponse](t, rec)
	if len(got.Emotions) != 8 || got.Emotions[0] != mood.Angry || got.Emotions[7] != mood.Surprised {
		t.Errorf("emotions = %v", got.Emotions)
	}
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		health     mockHealth
		wantStatus string
		wantInf    string
	}{
		{"healthy", mockHealth{h: inference.Health{Status: "healthy", ModelLoaded: true}}, "ok", "healthy"},
		{"model loading", mockHealth{h: inference.Health{Status: "healthy"}}, "degraded", "healthy"},
		{"down", mockHealth{err: apperrors.New(apperrors.CodeUnreachable, "refused")}, "degraded", "unreachable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, newTestServer(newMockMood(), tt.health), http.MethodGet, "/healthz", "")
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
			}
			got := decode[HealthResponse](t, rec)
			if got.Status != tt.wantStatus || got.Inference.Status != tt.wantInf {
				t.Errorf("health = %+v, want %s/%s", got, tt.wantStatus, tt.wantInf)
			}
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	rec := do(t, newTestServer(newMockMood(), mockHealth{}), http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Error("metrics output missing default collectors")
	}
}

func TestCORSPreflight(t *testing.T) {
	h := New(newMockMood(), mockHealth{}, Options{CORSOrigins: []string{"http://localhost:3000"}}).Handler()
	req := httptest.NewRequest(http.MethodOptions, "/api/mood/detect", http.NoBody)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if v := rec.Header().Get("Access-Control-Allow-Origin"); v != "http://localhost:3000" {
		t.Errorf("CORS origin = %q, want %q", v, "http://localhost:3000")
	}
}

func TestWebSocketPushesEvents(t *testing.T) {
	m := newMockMood()
	srv := httptest.NewServer(newTestServer(m, mockHealth{}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	busy := true
	m.events <- orchestrator.Event{Type: orchestrator.EventBusy, ID: "inv", Busy: &busy}
	m.events <- orchestrator.Event{Type: orchestrator.EventMood, Mood: &orchestrator.Current{Signal: mood.Signal{Label: "Calm", ConfidencePercent: 95}}}

	for _, want := range []orchestrator.EventType{orchestrator.EventBusy, orchestrator.EventMood} {
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("Read() error = %v", err)
		}
		var evt orchestrator.Event
		if err := json.Unmarshal(data, &evt); err != nil {
			t.Fatalf("decode %s: %v", data, err)
		}
		if evt.Type != want {
			t.Errorf("event type = %s, want %s", evt.Type, want)
		}
	}
}

func TestOriginPatterns(t *testing.T) {
	got := originPatterns([]string{"*", "http://localhost:3000/", "https://app.example.com"})
	want := []string{"*", "localhost:3000", "app.example.com"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("originPatterns()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
