package status

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type fakeSource struct {
	mu    sync.Mutex
	nodes map[string]*NodeSnapshot
	order []string
}

func newFakeSource(snaps ...*NodeSnapshot) *fakeSource {
	f := &fakeSource{nodes: make(map[string]*NodeSnapshot)}
	for _, s := range snaps {
		f.nodes[s.Address] = s
		f.order = append(f.order, s.Address)
	}
	return f
}

func (f *fakeSource) Snapshots() []*NodeSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*NodeSnapshot, 0, len(f.order))
	for _, a := range f.order {
		if s := f.nodes[a]; s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (f *fakeSource) Snapshot(address string) (*NodeSnapshot, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.nodes[address]
	return s, ok
}

func TestNewServer(t *testing.T) {
	tests := []struct {
		name     string
		config   ServerConfig
		wantPort int
	}{
		{name: "with default port", config: ServerConfig{}, wantPort: 8080},
		{name: "with custom port", config: ServerConfig{Port: 9090}, wantPort: 9090},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := NewServer(tt.config, newFakeSource())
			defer server.limiter.Stop()

			if server.Port() != tt.wantPort {
				t.Errorf("Port() = %v, want %v", server.Port(), tt.wantPort)
			}
		})
	}
}

func TestServerNodesEndpoint(t *testing.T) {
	source := newFakeSource(
		&NodeSnapshot{Address: "a1", Status: StatusRunning},
		&NodeSnapshot{Address: "a2", Status: StatusQueued},
	)
	server := NewServer(ServerConfig{}, source)
	defer server.limiter.Stop()

	req := httptest.NewRequest(http.MethodGet, "/nodes", nil)
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("StatusCode = %v, want 200", w.Code)
	}
	var got []NodeSnapshot
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(got) != 2 || got[1].Status != StatusQueued {
		t.Errorf("got %+v", got)
	}
}

func TestServerNodeEndpoint(t *testing.T) {
	source := newFakeSource(&NodeSnapshot{Address: "a1", Status: StatusRunning})
	source.nodes["pending"] = nil
	server := NewServer(ServerConfig{}, source)
	defer server.limiter.Stop()

	tests := []struct {
		name     string
		method   string
		path     string
		wantCode int
	}{
		{name: "known", method: http.MethodGet, path: "/nodes/a1", wantCode: http.StatusOK},
		{name: "unknown", method: http.MethodGet, path: "/nodes/zz", wantCode: http.StatusNotFound},
		{name: "no snapshot yet", method: http.MethodGet, path: "/nodes/pending", wantCode: http.StatusServiceUnavailable},
		{name: "wrong method", method: http.MethodPost, path: "/nodes/a1", wantCode: http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			w := httptest.NewRecorder()
			server.Handler().ServeHTTP(w, req)
			if w.Code != tt.wantCode {
				t.Errorf("StatusCode = %v, want %v", w.Code, tt.wantCode)
			}
		})
	}
}

func TestServerHealthEndpoint(t *testing.T) {
	tests := []struct {
		name  string
		snaps []*NodeSnapshot
		want  string
	}{
		{name: "no snapshots", want: HealthStatusUnhealthy},
		{name: "all fresh", snaps: []*NodeSnapshot{{Address: "a", Status: StatusRunning}}, want: HealthStatusOK},
		{name: "offline node", snaps: []*NodeSnapshot{{Address: "a", Status: StatusRunning}, {Address: "b", Status: StatusOffline}}, want: HealthStatusDegraded},
		{name: "degraded node", snaps: []*NodeSnapshot{{Address: "a", Status: StatusQueued, Degraded: true}}, want: HealthStatusDegraded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := NewServer(ServerConfig{Version: "1.0.0"}, newFakeSource(tt.snaps...))
			defer server.limiter.Stop()

			req := httptest.NewRequest(http.MethodGet, "/health", nil)
			w := httptest.NewRecorder()
			server.handleHealth(w, req)

			var resp HealthResponse
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("Failed to decode response: %v", err)
			}
			if resp.Status != tt.want {
				t.Errorf("Status = %v, want %v", resp.Status, tt.want)
			}
			if resp.Version != "1.0.0" {
				t.Errorf("Version = %v, want 1.0.0", resp.Version)
			}
		})
	}
}

func TestServerRateLimit(t *testing.T) {
	server := NewServer(ServerConfig{RateLimit: 0.001, RateBurst: 2}, newFakeSource())
	defer server.limiter.Stop()
	handler := server.Handler()

	codes := make([]int, 3)
	for i := range codes {
		req := httptest.NewRequest(http.MethodGet, "/nodes", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		codes[i] = w.Code
	}

	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Errorf("codes = %v, want [200 200 429]", codes)
	}
}

func TestServerWebSocketStream(t *testing.T) {
	source := newFakeSource(&NodeSnapshot{Address: "a1", Status: StatusQueued})
	server := NewServer(ServerConfig{}, source)
	defer server.limiter.Stop()

	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var ev Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if ev.Type != EventSnapshot || ev.Snapshot == nil || ev.Snapshot.Address != "a1" {
		t.Errorf("initial event = %+v", ev)
	}

	// wait for registration before publishing
	deadline := time.Now().Add(2 * time.Second)
	for server.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	tr := Transition{Address: "a1", From: StatusQueued, To: StatusRunning, At: time.Now().UTC()}
	if err := server.PublishTransition(context.Background(), tr); err != nil {
		t.Fatalf("PublishTransition() error = %v", err)
	}

	ev = Event{}
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if ev.Type != EventTransition || ev.Transition == nil || ev.Transition.To != StatusRunning {
		t.Errorf("transition event = %+v", ev)
	}
}
