package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/antoniostano/mnemo/internal/config"
	"github.com/antoniostano/mnemo/internal/extract"
	"github.com/antoniostano/mnemo/internal/memory"
	"github.com/antoniostano/mnemo/internal/observability"
	"github.com/antoniostano/mnemo/internal/session"
)

type fixedGateway struct {
	result extract.Result
}

func (g fixedGateway) Extract(context.Context, extract.Request) (extract.Result, error) {
	return g.result, nil
}

func newTestServer(t *testing.T, summarizeAfter int) (*httptest.Server, *memory.InMemoryProfileStore) {
	t.Helper()

	name := "Kim"
	gw := fixedGateway{result: extract.Result{
		Summary:     "Customer Kim, regular visitor.",
		Preferences: extract.Preferences{Name: &name},
	}}

	profiles := memory.NewInMemoryProfileStore()
	store := session.NewStore(session.Thresholds{SummarizeAfter: summarizeAfter}, time.Hour)
	metrics := observability.NewMetrics(fmt.Sprintf("test_httpapi_%d", time.Now().UnixNano()))
	mgr := memory.NewManager(store, gw, profiles, metrics, memory.Config{ExtractTimeout: 2 * time.Second})

	cfg := config.Config{AllowAnyOrigin: true}
	srv := New(cfg, mgr, metrics)

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, profiles
}

func postJSON(t *testing.T, url string, payload any) *http.Response {
	t.Helper()
	body, _ := json.Marshal(payload)
	res, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s error = %v", url, err)
	}
	return res
}

func TestCreateSessionAndRecordTurns(t *testing.T) {
	ts, _ := newTestServer(t, 3)

	res := postJSON(t, ts.URL+"/v1/memory/sessions", map[string]string{"user_id": "user-1"})
	defer res.Body.Close()
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, want %d", res.StatusCode, http.StatusCreated)
	}

	var created map[string]any
	if err := json.NewDecoder(res.Body).Decode(&created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	sessionID, _ := created["session_id"].(string)
	if sessionID == "" {
		t.Fatalf("missing session_id in create response: %+v", created)
	}

	var last map[string]any
	for i := 0; i < 3; i++ {
		turnRes := postJSON(t, ts.URL+"/v1/memory/turns", map[string]string{
			"session_id":   sessionID,
			"user_id":      "user-1",
			"user_input":   fmt.Sprintf("message %d", i),
			"agent_output": "ack",
		})
		if turnRes.StatusCode != http.StatusOK {
			t.Fatalf("turn status = %d, want %d", turnRes.StatusCode, http.StatusOK)
		}
		if err := json.NewDecoder(turnRes.Body).Decode(&last); err != nil {
			t.Fatalf("decode turn response: %v", err)
		}
		turnRes.Body.Close()
	}

	if last["summarized"] != true {
		t.Fatalf("third turn not summarized: %+v", last)
	}
	if last["status"] != "ok" {
		t.Fatalf("status = %v, want ok", last["status"])
	}

	sessRes, err := http.Get(ts.URL + "/v1/memory/sessions/" + sessionID)
	if err != nil {
		t.Fatalf("GET session error = %v", err)
	}
	defer sessRes.Body.Close()
	if sessRes.StatusCode != http.StatusOK {
		t.Fatalf("get session status = %d, want %d", sessRes.StatusCode, http.StatusOK)
	}
	var snap map[string]any
	if err := json.NewDecoder(sessRes.Body).Decode(&snap); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	if snap["state"] != "summarized" {
		t.Fatalf("state = %v, want summarized", snap["state"])
	}

	profRes, err := http.Get(ts.URL + "/v1/memory/users/user-1/profile")
	if err != nil {
		t.Fatalf("GET profile error = %v", err)
	}
	defer profRes.Body.Close()
	if profRes.StatusCode != http.StatusOK {
		t.Fatalf("get profile status = %d, want %d", profRes.StatusCode, http.StatusOK)
	}
	var profile map[string]any
	if err := json.NewDecoder(profRes.Body).Decode(&profile); err != nil {
		t.Fatalf("decode profile: %v", err)
	}
	facts, _ := profile["facts"].(map[string]any)
	if facts["name"] != "Kim" {
		t.Fatalf("profile facts = %v, want name=Kim", facts)
	}
}

func TestCreateSessionWithEmptyBody(t *testing.T) {
	ts, _ := newTestServer(t, 3)

	res, err := http.Post(ts.URL+"/v1/memory/sessions", "application/json", nil)
	if err != nil {
		t.Fatalf("POST error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusCreated)
	}

	var created map[string]any
	if err := json.NewDecoder(res.Body).Decode(&created); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if created["user_id"] != "anonymous" {
		t.Fatalf("user_id = %v, want anonymous", created["user_id"])
	}
}

func TestRecordTurnValidation(t *testing.T) {
	ts, _ := newTestServer(t, 3)

	res := postJSON(t, ts.URL+"/v1/memory/turns", map[string]string{
		"session_id": "s1",
	})
	defer res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}
}

func TestGetUnknownSession(t *testing.T) {
	ts, _ := newTestServer(t, 3)

	res, err := http.Get(ts.URL + "/v1/memory/sessions/never-seen")
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusNotFound)
	}
	var payload map[string]any
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if payload["code"] != "session_not_found" {
		t.Fatalf("code = %v, want session_not_found", payload["code"])
	}
}

func TestGetUnknownProfile(t *testing.T) {
	ts, _ := newTestServer(t, 3)

	res, err := http.Get(ts.URL + "/v1/memory/users/nobody/profile")
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusNotFound)
	}
}

func TestPerfLatencyEndpoint(t *testing.T) {
	ts, _ := newTestServer(t, 3)

	res, err := http.Get(ts.URL + "/v1/perf/latency")
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	var payload map[string]any
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if _, ok := payload["stages"]; !ok {
		t.Fatalf("missing stages in response: %+v", payload)
	}
}

func TestSessionWSTurnRoundTrip(t *testing.T) {
	ts, profiles := newTestServer(t, 1)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/memory/sessions/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial error = %v", err)
	}
	defer conn.Close()

	turn := map[string]string{
		"type":         "turn",
		"session_id":   "ws-session",
		"user_id":      "user-ws",
		"user_input":   "My name is Kim",
		"agent_output": "Hello Kim",
	}
	if err := conn.WriteJSON(turn); err != nil {
		t.Fatalf("write turn: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var event map[string]any
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if event["type"] != "snapshot" {
		t.Fatalf("event type = %v, want snapshot", event["type"])
	}
	if event["session_id"] != "ws-session" {
		t.Fatalf("session_id = %v", event["session_id"])
	}
	if event["summarized"] != true {
		t.Fatalf("turn at threshold not summarized: %+v", event)
	}

	stored, ok, err := profiles.Get(context.Background(), "user-ws")
	if err != nil || !ok {
		t.Fatalf("profile not stored: ok=%v err=%v", ok, err)
	}
	if stored.Facts["name"] != "Kim" {
		t.Fatalf("facts = %v, want name=Kim", stored.Facts)
	}
}

func TestSessionWSRejectsInvalidMessage(t *testing.T) {
	ts, _ := newTestServer(t, 3)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/memory/sessions/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial error = %v", err)
	}
	defer conn.Close()

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"wat"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var event map[string]any
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("read error event: %v", err)
	}
	if event["type"] != "error_event" {
		t.Fatalf("event type = %v, want error_event", event["type"])
	}
	if event["code"] != "invalid_client_message" {
		t.Fatalf("code = %v, want invalid_client_message", event["code"])
	}
}

func TestSessionWSPing(t *testing.T) {
	ts, _ := newTestServer(t, 3)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/memory/sessions/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial error = %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]any{"type": "ping", "ts_ms": 42}); err != nil {
		t.Fatalf("write ping: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var event map[string]any
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("read pong: %v", err)
	}
	if event["type"] != "pong" {
		t.Fatalf("event type = %v, want pong", event["type"])
	}
	if event["ts_ms"] != float64(42) {
		t.Fatalf("ts_ms = %v, want 42", event["ts_ms"])
	}
}
