package api

import (
    "encoding/json"
    "net/http"
    "net/http/httptest"
    "strings"
    "testing"
    "time"

    "github.com/gorilla/websocket"

    "fleetvision/internal/realtime"
)

// newWSServer mounts the handler behind LogMiddleware, same as cmd/api,
// so upgrades exercise the full production chain.
func newWSServer(t *testing.T, s *Server) *httptest.Server {
    t.Helper()
    mux := http.NewServeMux()
    mux.HandleFunc("/ws/fleet", s.FleetWSHandler)
    ts := httptest.NewServer(LogMiddleware(mux))
    t.Cleanup(ts.Close)
    return ts
}

func TestFleetWSReceivesTenantUpdates(t *testing.T) {
    s, _ := newTestServer(t)
    ts := newWSServer(t, s)

    u := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/fleet"
    hdr := http.Header{}
    hdr.Set("X-Tenant-Id", "t1")
    hdr.Set("X-Role", "user")
    conn, _, err := websocket.DefaultDialer.Dial(u, hdr)
    if err != nil { t.Fatalf("dial: %v", err) }
    defer conn.Close()

    // give the handler a beat to subscribe before publishing
    time.Sleep(50 * time.Millisecond)
    s.Broker.Publish(realtime.TenantGroup("t1"), realtime.GroupEvent{
        Type: "vehicle.update",
        Data: map[string]any{"id": "v1", "speed": 42.0},
    })

    conn.SetReadDeadline(time.Now().Add(2 * time.Second))
    _, b, err := conn.ReadMessage()
    if err != nil { t.Fatalf("read: %v", err) }
    var msg struct {
        Type string         `json:"type"`
        Data map[string]any `json:"data"`
    }
    if err := json.Unmarshal(b, &msg); err != nil { t.Fatal(err) }
    if msg.Type != "vehicle.update" || msg.Data["id"] != "v1" {
        t.Fatalf("msg = %+v", msg)
    }
}

func TestFleetWSAdminScopeJoinsGlobalGroup(t *testing.T) {
    s, _ := newTestServer(t)
    ts := newWSServer(t, s)

    u := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/fleet?scope=all"
    hdr := http.Header{}
    hdr.Set("X-Tenant-Id", "t1")
    hdr.Set("X-Role", "admin")
    conn, _, err := websocket.DefaultDialer.Dial(u, hdr)
    if err != nil { t.Fatalf("dial: %v", err) }
    defer conn.Close()

    time.Sleep(50 * time.Millisecond)
    // update for another tenant still reaches the global group
    s.Broker.Publish(realtime.GlobalAdminGroup, realtime.GroupEvent{
        Type: "vehicle.update",
        Data: map[string]any{"id": "v9"},
    })

    conn.SetReadDeadline(time.Now().Add(2 * time.Second))
    _, b, err := conn.ReadMessage()
    if err != nil { t.Fatalf("read: %v", err) }
    if !strings.Contains(string(b), "v9") {
        t.Fatalf("msg = %s", b)
    }
}
