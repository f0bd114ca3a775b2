package transport

import (
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
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"coursepulse/internal/config"
	"coursepulse/internal/event"
	"coursepulse/internal/registry"
)

type fakeAuth struct {
	identities map[string]event.Identity
}

func (f *fakeAuth) Authenticate(_ context.Context, token string) (event.Identity, error) {
	ident, ok := f.identities[token]
	if !ok {
		return event.Identity{}, fmt.Errorf("unknown token")
	}
	return ident, nil
}

type fakeDispatcher struct {
	mu     sync.Mutex
	frames [][]byte
}

func (f *fakeDispatcher) Handle(_ context.Context, _ registry.Link, raw []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, raw)
}

func (f *fakeDispatcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

type fakeRosters struct {
	mu      sync.Mutex
	dropped []string
}

func (f *fakeRosters) DropConnection(link registry.Link) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dropped = append(f.dropped, link.ID())
}

func (f *fakeRosters) droppedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.dropped)
}

type fakeFlusher struct {
	mu      sync.Mutex
	flushed []string
}

func (f *fakeFlusher) FlushPending(_ context.Context, link registry.Link) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushed = append(f.flushed, link.UserID())
}

type fakeAudit struct {
	mu       sync.Mutex
	created  []*event.DeviceSession
	closed   []string
	previous *event.DeviceSession
}

func (f *fakeAudit) CreateDeviceSession(_ context.Context, s *event.DeviceSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, s)
	return nil
}

func (f *fakeAudit) CloseDeviceSession(_ context.Context, connectionID string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, connectionID)
	return nil
}

func (f *fakeAudit) LatestDeviceSession(_ context.Context, _ string) (*event.DeviceSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.previous, nil
}

type harness struct {
	server     *httptest.Server
	registry   *registry.Registry
	dispatcher *fakeDispatcher
	rosters    *fakeRosters
	flusher    *fakeFlusher
	audit      *fakeAudit
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := zap.NewNop()
	reg := registry.New(logger)
	dispatcher := &fakeDispatcher{}
	rosters := &fakeRosters{}
	flusher := &fakeFlusher{}
	audit := &fakeAudit{}

	auth := &fakeAuth{identities: map[string]event.Identity{
		"tok-alice": {UserID: "alice", Role: "student", IsActive: true},
		"tok-teach": {UserID: "teach", Role: "instructor", IsActive: true},
		"tok-idle":  {UserID: "idle", Role: "student", IsActive: false},
		"tok-weird": {UserID: "weird", Role: "superuser", IsActive: true},
	}}

	h := NewHandler(reg, dispatcher, rosters, flusher, audit, auth, config.WebSocketConfig{
		PingInterval: 30 * time.Second,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: time.Second,
		SendBuffer:   10,
		AuthTimeout:  time.Second,
	}, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.HandleWebSocket)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	return &harness{server: ts, registry: reg, dispatcher: dispatcher, rosters: rosters, flusher: flusher, audit: audit}
}

func (h *harness) dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.server.URL, "http") + "/ws?token=" + token
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func (h *harness) dialExpectStatus(t *testing.T, token string, wantStatus int) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.server.URL, "http") + "/ws"
	if token != "" {
		url += "?token=" + token
	}
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, wantStatus, resp.StatusCode)
}

func readEnvelope(t *testing.T, ws *websocket.Conn) event.Envelope {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var env event.Envelope
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func TestHandshakeRejectsBeforeUpgrade(t *testing.T) {
	h := newHarness(t)

	h.dialExpectStatus(t, "", http.StatusUnauthorized)
	h.dialExpectStatus(t, "tok-bogus", http.StatusUnauthorized)
	h.dialExpectStatus(t, "tok-idle", http.StatusForbidden)
	h.dialExpectStatus(t, "tok-weird", http.StatusForbidden)

	assert.Equal(t, 0, h.registry.Stats().Connections, "rejected clients never touch registry state")
}

func TestConnectEstablishesPresenceAndScopes(t *testing.T) {
	h := newHarness(t)
	ws := h.dial(t, "tok-alice")

	env := readEnvelope(t, ws)
	require.Equal(t, event.OutConnected, env.Event)
	body := env.Payload.(map[string]any)
	connID := body["connection_id"].(string)
	assert.NotEmpty(t, connID)
	assert.Equal(t, float64(1), body["device_count"])

	assert.True(t, h.registry.IsOnline("alice"))
	assert.True(t, h.registry.InScope(connID, registry.UserScope("alice")))
	assert.True(t, h.registry.InScope(connID, registry.RoleScope("student")))
}

func TestInboundFramesReachDispatcher(t *testing.T) {
	h := newHarness(t)
	ws := h.dial(t, "tok-alice")
	_ = readEnvelope(t, ws) // connected ack

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"event":"join_course","payload":{"course_id":"go-101"}}`)))

	require.Eventually(t, func() bool {
		return h.dispatcher.count() == 1
	}, time.Second, 10*time.Millisecond)
}

func TestDisconnectCleansUpEverything(t *testing.T) {
	h := newHarness(t)
	ws := h.dial(t, "tok-alice")
	_ = readEnvelope(t, ws)
	require.NoError(t, ws.Close())

	require.Eventually(t, func() bool {
		return !h.registry.IsOnline("alice")
	}, time.Second, 10*time.Millisecond)

	assert.Equal(t, 1, h.rosters.droppedCount(), "live rosters are told before presence removal")

	require.Eventually(t, func() bool {
		h.audit.mu.Lock()
		defer h.audit.mu.Unlock()
		return len(h.audit.closed) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestPostConnectAuditAndFlush(t *testing.T) {
	h := newHarness(t)
	ws := h.dial(t, "tok-alice")
	_ = readEnvelope(t, ws)

	require.Eventually(t, func() bool {
		h.audit.mu.Lock()
		defer h.audit.mu.Unlock()
		return len(h.audit.created) == 1
	}, time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		h.flusher.mu.Lock()
		defer h.flusher.mu.Unlock()
		return len(h.flusher.flushed) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestNewDeviceTriggersSecurityAlert(t *testing.T) {
	h := newHarness(t)
	h.audit.previous = &event.DeviceSession{
		UserID: "alice",
		Device: event.DeviceDescriptor{
			Class: event.DeviceMobile, RemoteAddr: "203.0.113.9",
		},
	}

	ws := h.dial(t, "tok-alice")
	_ = readEnvelope(t, ws) // connected ack

	env := readEnvelope(t, ws)
	assert.Equal(t, event.OutSecurityAlert, env.Event)
	body := env.Payload.(map[string]any)
	assert.Equal(t, "new_device_login", body["reason"])
}

func TestSecondDeviceCountsUp(t *testing.T) {
	h := newHarness(t)
	first := h.dial(t, "tok-alice")
	_ = readEnvelope(t, first)

	second := h.dial(t, "tok-alice")
	env := readEnvelope(t, second)
	require.Equal(t, event.OutConnected, env.Event)
	assert.Equal(t, float64(2), env.Payload.(map[string]any)["device_count"])
	assert.Equal(t, 2, h.registry.ConnectionCount("alice"))
}

func TestBearerToken(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.Header.Set("Authorization", "Bearer tok-1")
	assert.Equal(t, "tok-1", bearerToken(r))

	r = httptest.NewRequest(http.MethodGet, "/ws?token=tok-2", nil)
	assert.Equal(t, "tok-2", bearerToken(r))

	r = httptest.NewRequest(http.MethodGet, "/ws", nil)
	assert.Equal(t, "", bearerToken(r))
}

func TestClientAddr(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.RemoteAddr = "192.0.2.5:4242"
	assert.Equal(t, "192.0.2.5", clientAddr(r))

	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	assert.Equal(t, "203.0.113.9", clientAddr(r))
}
