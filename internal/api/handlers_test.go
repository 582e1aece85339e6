package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"clinicgo/internal/clinical"
	"clinicgo/internal/models"
	"clinicgo/internal/reconciler"
	"clinicgo/internal/session"
)

type fakeEngine struct {
	answer    string
	err       error
	calls     int
	lastQuery string
}

func (f *fakeEngine) Stream(ctx context.Context, query string, cb func(string) error) (string, error) {
	f.calls++
	f.lastQuery = query
	if f.err != nil {
		return "", f.err
	}
	if cb != nil {
		if err := cb(f.answer); err != nil {
			return "", err
		}
	}
	return f.answer, nil
}

func newTestServer(t *testing.T) (*gin.Engine, *fakeEngine) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := session.Open()
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := session.Migrate(db); err != nil {
		t.Fatalf("migrate db: %v", err)
	}
	store, err := session.NewStore(db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	eng := &fakeEngine{answer: "mock clinical answer"}
	handler := NewHandler(clinical.NewComposer("English"), store, reconciler.New(store, eng))

	router := gin.New()
	handler.RegisterRoutes(router)
	return router, eng
}

func doJSONRequest(t *testing.T, router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, data []byte, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("decode json: %v", err)
	}
}

func assertStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("unexpected status %d, body: %s", rec.Code, rec.Body.String())
	}
}

type sseEvent struct {
	Name string
	Data string
}

func parseSSE(t *testing.T, payload string) []sseEvent {
	t.Helper()
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return nil
	}
	chunks := strings.Split(payload, "\n\n")
	var events []sseEvent
	for _, chunk := range chunks {
		lines := strings.Split(strings.TrimSpace(chunk), "\n")
		if len(lines) == 0 {
			continue
		}
		var evt sseEvent
		for _, line := range lines {
			switch {
			case strings.HasPrefix(line, "event:"):
				evt.Name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			case strings.HasPrefix(line, "data:"):
				data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
				if evt.Data == "" {
					evt.Data = data
				} else {
					evt.Data += "\n" + data
				}
			}
		}
		events = append(events, evt)
	}
	return events
}

type donePayload struct {
	UserMessage models.Message `json:"user_message"`
	AIMessage   models.Message `json:"ai_message"`
	Cached      bool           `json:"cached"`
	Render      struct {
		ScrollTarget  string `json:"scroll_target"`
		SettleDelayMS int64  `json:"settle_delay_ms"`
	} `json:"render"`
}

func TestQuickActionEndToEnd(t *testing.T) {
	router, eng := newTestServer(t)

	resp := doJSONRequest(t, router, http.MethodPost, "/api/actions/quick",
		map[string]string{"kind": "diagnosis-criteria", "disease": "Sepsis"})
	assertStatus(t, resp, http.StatusOK)

	events := parseSSE(t, resp.Body.String())
	if len(events) != 3 {
		t.Fatalf("expected ack, stream and done events, got %d: %#v", len(events), events)
	}
	if events[0].Name != "ack" || events[1].Name != "stream" || events[2].Name != "done" {
		t.Fatalf("unexpected SSE sequence: %#v", events)
	}

	var ack struct {
		Message models.Message `json:"message"`
	}
	decodeJSON(t, []byte(events[0].Data), &ack)
	if ack.Message.ID != "msg_1" || !strings.Contains(ack.Message.Content, "Sepsis") {
		t.Fatalf("unexpected ack message: %+v", ack.Message)
	}

	var done donePayload
	decodeJSON(t, []byte(events[2].Data), &done)
	if done.AIMessage.Content != "mock clinical answer" || done.Cached {
		t.Fatalf("unexpected done payload: %+v", done)
	}
	if done.Render.ScrollTarget != "msg_1" || done.Render.SettleDelayMS != 1000 {
		t.Fatalf("unexpected render plan: %+v", done.Render)
	}

	if eng.calls != 1 {
		t.Fatalf("expected one engine call, got %d", eng.calls)
	}
	if !strings.Contains(eng.lastQuery, "diagnostic guideline") || !strings.Contains(eng.lastQuery, "[Sepsis]") {
		t.Fatalf("engine query missing template text: %q", eng.lastQuery)
	}

	// The transcript holds seed + user + assistant.
	convResp := doJSONRequest(t, router, http.MethodGet, "/api/conversation", nil)
	assertStatus(t, convResp, http.StatusOK)
	var conv struct {
		Messages []models.Message `json:"messages"`
	}
	decodeJSON(t, convResp.Body.Bytes(), &conv)
	if len(conv.Messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(conv.Messages))
	}
}

func TestQuickActionCacheReplay(t *testing.T) {
	router, eng := newTestServer(t)
	body := map[string]string{"kind": "red-flags", "disease": "Sepsis"}

	first := doJSONRequest(t, router, http.MethodPost, "/api/actions/quick", body)
	assertStatus(t, first, http.StatusOK)

	second := doJSONRequest(t, router, http.MethodPost, "/api/actions/quick", body)
	assertStatus(t, second, http.StatusOK)
	events := parseSSE(t, second.Body.String())
	if events[len(events)-1].Name != "done" {
		t.Fatalf("unexpected SSE sequence: %#v", events)
	}
	var done donePayload
	decodeJSON(t, []byte(events[len(events)-1].Data), &done)
	if !done.Cached || done.AIMessage.Content != "mock clinical answer" || !done.AIMessage.Cached {
		t.Fatalf("expected cache-derived turn, got %+v", done)
	}
	if eng.calls != 1 {
		t.Fatalf("expected cache replay without a second engine call, got %d", eng.calls)
	}
}

func TestQuickActionValidation(t *testing.T) {
	router, eng := newTestServer(t)

	resp := doJSONRequest(t, router, http.MethodPost, "/api/actions/quick",
		map[string]string{"kind": "diagnosis-criteria", "disease": "  "})
	assertStatus(t, resp, http.StatusBadRequest)
	if eng.calls != 0 {
		t.Fatalf("validation failure must not reach the engine")
	}

	// Nothing was mutated.
	convResp := doJSONRequest(t, router, http.MethodGet, "/api/conversation", nil)
	var conv struct {
		Messages []models.Message `json:"messages"`
	}
	decodeJSON(t, convResp.Body.Bytes(), &conv)
	if len(conv.Messages) != 1 {
		t.Fatalf("expected only the seed message, got %d", len(conv.Messages))
	}
	histResp := doJSONRequest(t, router, http.MethodGet, "/api/history", nil)
	var hist struct {
		History []json.RawMessage `json:"history"`
	}
	decodeJSON(t, histResp.Body.Bytes(), &hist)
	if len(hist.History) != 0 {
		t.Fatalf("expected empty history, got %d entries", len(hist.History))
	}
}

func TestDosingAction(t *testing.T) {
	router, eng := newTestServer(t)

	patient := map[string]any{"age": 65, "sex": "male", "weight_kg": 60, "serum_creatinine": 1.0}

	resp := doJSONRequest(t, router, http.MethodPost, "/api/actions/dosing",
		map[string]any{"drug": "", "indication": "HAP", "patient": patient})
	assertStatus(t, resp, http.StatusBadRequest)

	resp = doJSONRequest(t, router, http.MethodPost, "/api/actions/dosing",
		map[string]any{"drug": "Meropenem", "indication": "", "patient": patient})
	assertStatus(t, resp, http.StatusBadRequest)
	if eng.calls != 0 {
		t.Fatalf("validation failures must not reach the engine")
	}

	resp = doJSONRequest(t, router, http.MethodPost, "/api/actions/dosing",
		map[string]any{"drug": "Meropenem", "indication": "HAP", "patient": patient})
	assertStatus(t, resp, http.StatusOK)
	events := parseSSE(t, resp.Body.String())
	var ack struct {
		Message models.Message `json:"message"`
	}
	decodeJSON(t, []byte(events[0].Data), &ack)
	if !strings.Contains(ack.Message.Content, "Meropenem") || !strings.Contains(ack.Message.Content, "CrCl 62.5") {
		t.Fatalf("dosing label missing drug or clearance: %q", ack.Message.Content)
	}
	if !strings.Contains(eng.lastQuery, "CrCl 62.5 ml/min") {
		t.Fatalf("dosing query missing clearance context: %q", eng.lastQuery)
	}
}

func TestDifferentialAction(t *testing.T) {
	router, eng := newTestServer(t)

	resp := doJSONRequest(t, router, http.MethodPost, "/api/actions/differential",
		map[string]string{"symptoms": "", "lab_findings": "elevated lipase"})
	assertStatus(t, resp, http.StatusBadRequest)

	resp = doJSONRequest(t, router, http.MethodPost, "/api/actions/differential",
		map[string]string{"symptoms": "epigastric pain", "lab_findings": "elevated lipase"})
	assertStatus(t, resp, http.StatusOK)
	if !strings.Contains(eng.lastQuery, "epigastric pain") || !strings.Contains(eng.lastQuery, "elevated lipase") {
		t.Fatalf("differential query missing inputs: %q", eng.lastQuery)
	}
}

func TestEngineErrorSurfacedPerTurn(t *testing.T) {
	router, eng := newTestServer(t)
	eng.err = errors.New("mock quota failure")

	resp := doJSONRequest(t, router, http.MethodPost, "/api/actions/quick",
		map[string]string{"kind": "labs-workup", "disease": "Sepsis"})
	assertStatus(t, resp, http.StatusOK)
	events := parseSSE(t, resp.Body.String())
	if len(events) != 2 || events[0].Name != "ack" || events[1].Name != "error" {
		t.Fatalf("expected ack then error, got %#v", events)
	}
	if !strings.Contains(events[1].Data, "mock quota failure") {
		t.Fatalf("missing error payload: %s", events[1].Data)
	}

	// The failed turn stays response-less so a retry hits the engine again.
	histResp := doJSONRequest(t, router, http.MethodGet, "/api/history", nil)
	var hist struct {
		History []struct {
			HasResponse bool `json:"has_response"`
		} `json:"history"`
	}
	decodeJSON(t, histResp.Body.Bytes(), &hist)
	if len(hist.History) != 1 || hist.History[0].HasResponse {
		t.Fatalf("expected one response-less entry, got %+v", hist.History)
	}

	eng.err = nil
	resp = doJSONRequest(t, router, http.MethodPost, "/api/actions/quick",
		map[string]string{"kind": "labs-workup", "disease": "Sepsis"})
	assertStatus(t, resp, http.StatusOK)
	events = parseSSE(t, resp.Body.String())
	if events[len(events)-1].Name != "done" {
		t.Fatalf("expected retry to succeed, got %#v", events)
	}
	if eng.calls != 2 {
		t.Fatalf("expected retry to reach the engine, got %d calls", eng.calls)
	}
}

func TestHistoryClickEndpoints(t *testing.T) {
	router, eng := newTestServer(t)

	resp := doJSONRequest(t, router, http.MethodPost, "/api/actions/quick",
		map[string]string{"kind": "treatment-goals", "disease": "Sepsis"})
	assertStatus(t, resp, http.StatusOK)

	clickResp := doJSONRequest(t, router, http.MethodPost, "/api/history/click",
		map[string]string{"id": "msg_1"})
	assertStatus(t, clickResp, http.StatusOK)
	var click struct {
		Render struct {
			ScrollTarget  string `json:"scroll_target"`
			SettleDelayMS int64  `json:"settle_delay_ms"`
		} `json:"render"`
	}
	decodeJSON(t, clickResp.Body.Bytes(), &click)
	if click.Render.ScrollTarget != "msg_1" || click.Render.SettleDelayMS != 100 {
		t.Fatalf("expected short-settle scroll to the visible message, got %+v", click.Render)
	}
	if eng.calls != 1 {
		t.Fatalf("history click must not invoke the engine")
	}

	missing := doJSONRequest(t, router, http.MethodPost, "/api/history/click",
		map[string]string{"id": "msg_42"})
	assertStatus(t, missing, http.StatusNotFound)
}

func TestResetEndpoint(t *testing.T) {
	router, _ := newTestServer(t)

	resp := doJSONRequest(t, router, http.MethodPost, "/api/actions/quick",
		map[string]string{"kind": "physical-exam", "disease": "Appendicitis"})
	assertStatus(t, resp, http.StatusOK)

	resetResp := doJSONRequest(t, router, http.MethodPost, "/api/conversation/reset", nil)
	assertStatus(t, resetResp, http.StatusNoContent)

	convResp := doJSONRequest(t, router, http.MethodGet, "/api/conversation", nil)
	var conv struct {
		Messages []models.Message `json:"messages"`
	}
	decodeJSON(t, convResp.Body.Bytes(), &conv)
	if len(conv.Messages) != 1 || conv.Messages[0].Content != session.SeedGreeting {
		t.Fatalf("expected only the seed greeting after reset, got %+v", conv.Messages)
	}

	// The id counter restarted: the next turn is msg_1 again.
	resp = doJSONRequest(t, router, http.MethodPost, "/api/actions/quick",
		map[string]string{"kind": "physical-exam", "disease": "Appendicitis"})
	assertStatus(t, resp, http.StatusOK)
	events := parseSSE(t, resp.Body.String())
	var ack struct {
		Message models.Message `json:"message"`
	}
	decodeJSON(t, []byte(events[0].Data), &ack)
	if ack.Message.ID != "msg_1" {
		t.Fatalf("expected msg_1 after reset, got %s", ack.Message.ID)
	}
}

func TestCrClEndpoint(t *testing.T) {
	router, _ := newTestServer(t)

	resp := doJSONRequest(t, router, http.MethodPost, "/api/crcl",
		map[string]any{"age": 65, "sex": "female", "weight_kg": 60, "serum_creatinine": 1.0})
	assertStatus(t, resp, http.StatusOK)
	var result models.CrClResult
	decodeJSON(t, resp.Body.Bytes(), &result)
	if !result.Computed || result.Value != 53.1 || result.Severity != models.SeverityModerate {
		t.Fatalf("unexpected result: %+v", result)
	}

	resp = doJSONRequest(t, router, http.MethodPost, "/api/crcl",
		map[string]any{"age": 0, "sex": "male", "weight_kg": 60, "serum_creatinine": 1.0})
	assertStatus(t, resp, http.StatusBadRequest)

	// Not computed rather than divide-by-zero.
	resp = doJSONRequest(t, router, http.MethodPost, "/api/crcl",
		map[string]any{"age": 65, "sex": "male", "weight_kg": 60, "serum_creatinine": 0})
	assertStatus(t, resp, http.StatusOK)
	decodeJSON(t, resp.Body.Bytes(), &result)
	if result.Computed {
		t.Fatalf("expected not-computed result for zero creatinine, got %+v", result)
	}
}
