package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"fleetvision/internal/realtime"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}

// FleetWSHandler handles /ws/fleet: a live stream of vehicle updates for
// the caller's group. Admins join the cross-tenant group; everyone else
// sees only their own tenant's fleet.
func (s *Server) FleetWSHandler(w http.ResponseWriter, r *http.Request) {
	p := s.getPrincipal(r)
	group := realtime.TenantGroup(p.Tenant)
	if p.IsAdmin() && r.URL.Query().Get("scope") == "all" {
		group = realtime.GlobalAdminGroup
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	ch := s.Broker.Subscribe(group)
	defer s.Broker.Unsubscribe(group, ch)

	// Reader only consumes control frames; a read error tears the
	// connection down.
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(1 << 16)
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		conn.SetPongHandler(func(string) error {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(20 * time.Second)
	defer ping.Stop()
	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case evt := <-ch:
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteJSON(map[string]any{"type": evt.Type, "data": evt.Data}); err != nil {
				return
			}
		}
	}
}
