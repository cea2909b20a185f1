package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/wal-rus/lovepotion/internal/clock"
	"github.com/wal-rus/lovepotion/internal/hardware"
	"github.com/wal-rus/lovepotion/internal/httpapi"
	"github.com/wal-rus/lovepotion/internal/lovepotion/service"
	"github.com/wal-rus/lovepotion/internal/lovepotion/store/memory"
	"github.com/wal-rus/lovepotion/internal/lovepotion/types"
)

const testToken = "s3cret"

type stubActuator struct {
	mu      sync.Mutex
	unlocks int
	err     error
}

func (a *stubActuator) Unlock(context.Context, time.Duration) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.unlocks++
	return nil
}

func (a *stubActuator) Unlocks() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.unlocks
}

func (a *stubActuator) Fail(err error) {
	a.mu.Lock()
	a.err = err
	a.mu.Unlock()
}

func (a *stubActuator) Beep(context.Context, time.Duration) error { return nil }
func (a *stubActuator) Unlocked() bool { return false }

type fixture struct {
	ts       *httptest.Server
	ctrl     *service.AccessController
	actuator *stubActuator
	audit    *memory.AuditLog
}

// newTestServer wires the controller to in-memory stores and returns an
// httptest.Server whose URL can be hit with a plain http.Client.
func newTestServer(t *testing.T, token string) fixture {
	t.Helper()

	clk := clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	audit := memory.NewAuditLog(0)
	actuator := &stubActuator{}
	ctrl := service.NewAccessController(service.ControllerDependencies{
		Config:   service.DefaultControllerConfig(),
		Users:    memory.NewUserDirectory([]types.User{{ID: "deadbeef", Name: "alice", Enabled: true}}),
		Audit:    audit,
		Actuator: actuator,
		Clock:    clk,
	})

	srv := httpapi.NewServer(httpapi.Dependencies{
		Addr:       ":0",
		Controller: ctrl,
		Hardware:   hardware.NewMock(hardware.Options{Clock: clk}),
		Audit:      audit,
		OpenToken:  token,
		Clock:      clk,
	})

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return fixture{ts: ts, ctrl: ctrl, actuator: actuator, audit: audit}
}

func do(t *testing.T, method, url string, body io.Reader, header map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

// ── Status ───────────────────────────────────────────────────────────────────

func TestHealthz(t *testing.T) {
	f := newTestServer(t, "")

	resp := do(t, http.MethodGet, f.ts.URL+"/healthz", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestStatus_ReportsLastUnauthorized(t *testing.T) {
	f := newTestServer(t, "")
	f.ctrl.HandleTag(context.Background(), "CAFE")

	resp := do(t, http.MethodGet, f.ts.URL+"/v1/status", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var st types.Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.LastUnauthorized != "cafe" {
		t.Errorf("expected last_unauthorized=cafe, got %q", st.LastUnauthorized)
	}
	if st.Hardware != "mock" {
		t.Errorf("expected hardware=mock, got %q", st.Hardware)
	}
	if st.ServerTime != "2026-03-01T12:00:00Z" {
		t.Errorf("unexpected server_time %q", st.ServerTime)
	}
}

func TestStatus_Protobuf(t *testing.T) {
	f := newTestServer(t, "")
	f.ctrl.HandleTag(context.Background(), "cafe")

	resp := do(t, http.MethodGet, f.ts.URL+"/v1/status", nil, map[string]string{"Accept": "application/x-protobuf"})
	if ct := resp.Header.Get("Content-Type"); ct != "application/x-protobuf" {
		t.Fatalf("expected protobuf content type, got %q", ct)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg structpb.Struct
	if err := proto.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got := msg.GetFields()["last_unauthorized"].GetStringValue(); got != "cafe" {
		t.Errorf("expected last_unauthorized=cafe, got %q", got)
	}
}

func TestClearLastUnauthorized(t *testing.T) {
	f := newTestServer(t, "")
	f.ctrl.HandleTag(context.Background(), "cafe")

	resp := do(t, http.MethodDelete, f.ts.URL+"/v1/last_unauthorized", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if _, ok := f.ctrl.LastUnauthorized(); ok {
		t.Error("expected last unauthorized to be cleared")
	}
}

// ── Events ───────────────────────────────────────────────────────────────────

func TestEvents_NewestFirstWithLimit(t *testing.T) {
	f := newTestServer(t, "")
	ctx := context.Background()
	f.ctrl.HandleTag(ctx, "cafe")
	f.ctrl.HandleTag(ctx, "deadbeef")

	resp := do(t, http.MethodGet, f.ts.URL+"/v1/events?limit=1", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var body struct {
		Events []types.AuditRecord `json:"events"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(body.Events))
	}
	ev := body.Events[0]
	if ev.CredentialID == nil || *ev.CredentialID != "deadbeef" {
		t.Errorf("expected newest event for deadbeef, got %+v", ev)
	}
}

func TestEvents_BadLimit(t *testing.T) {
	f := newTestServer(t, "")

	for _, q := range []string{"limit=0", "limit=-3", "limit=abc"} {
		resp := do(t, http.MethodGet, f.ts.URL+"/v1/events?"+q, nil, nil)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", q, resp.StatusCode)
		}
	}
}

// ── Remote open ──────────────────────────────────────────────────────────────

func TestOpen_DisabledWithoutToken(t *testing.T) {
	f := newTestServer(t, "")

	resp := do(t, http.MethodPost, f.ts.URL+"/v1/open", strings.NewReader(`{"actor":"bob"}`),
		map[string]string{"Authorization": "Bearer anything"})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	if f.actuator.Unlocks() != 0 {
		t.Error("door must not open")
	}
}

func TestOpen_RejectsBadToken(t *testing.T) {
	f := newTestServer(t, testToken)

	for _, auth := range []string{"", "Bearer nope", "Basic " + testToken} {
		resp := do(t, http.MethodPost, f.ts.URL+"/v1/open", strings.NewReader(`{"actor":"bob"}`),
			map[string]string{"Authorization": auth})
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("auth %q: expected 401, got %d", auth, resp.StatusCode)
		}
	}
	if f.actuator.Unlocks() != 0 {
		t.Error("door must not open")
	}
}

func TestOpen_JSON(t *testing.T) {
	f := newTestServer(t, testToken)

	resp := do(t, http.MethodPost, f.ts.URL+"/v1/open", strings.NewReader(`{"actor":"bob"}`),
		map[string]string{"Authorization": "Bearer " + testToken, "Content-Type": "application/json"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if n := f.actuator.Unlocks(); n != 1 {
		t.Errorf("expected 1 unlock, got %d", n)
	}

	recs := f.audit.Records()
	if len(recs) != 1 || recs[0].Action != types.ActionRemoteOpen || *recs[0].Actor != "bob" {
		t.Errorf("unexpected audit: %+v", recs)
	}
}

func TestOpen_ProtobufBody(t *testing.T) {
	f := newTestServer(t, testToken)

	msg, err := structpb.NewStruct(map[string]any{"actor": "carol"})
	if err != nil {
		t.Fatalf("struct: %v", err)
	}
	raw, err := proto.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	resp := do(t, http.MethodPost, f.ts.URL+"/v1/open", bytes.NewReader(raw), map[string]string{
		"Authorization": "Bearer " + testToken,
		"Content-Type":  "application/x-protobuf",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if recs := f.audit.Records(); len(recs) != 1 || *recs[0].Actor != "carol" {
		t.Errorf("unexpected audit: %+v", recs)
	}
}

func TestOpen_ErrorMapping(t *testing.T) {
	f := newTestServer(t, testToken)
	hdr := map[string]string{"Authorization": "Bearer " + testToken}

	resp := do(t, http.MethodPost, f.ts.URL+"/v1/open", strings.NewReader(`{"actor":"  "}`), hdr)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty actor: expected 400, got %d", resp.StatusCode)
	}

	resp = do(t, http.MethodPost, f.ts.URL+"/v1/open", strings.NewReader(`{"actor":`), hdr)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad json: expected 400, got %d", resp.StatusCode)
	}

	f.actuator.Fail(service.ErrActuatorQueueFull)
	resp = do(t, http.MethodPost, f.ts.URL+"/v1/open", strings.NewReader(`{"actor":"bob"}`), hdr)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("queue full: expected 503, got %d", resp.StatusCode)
	}
}
