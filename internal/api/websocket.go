package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/lowcap-labs/regime-engine/internal/events"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleWS upgrades the connection and streams every state-transition event
// the bus publishes until the client disconnects.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	// subscribe to every transition type this feed cares about.
	var subs []*events.Subscription
	out := make(chan events.Event, 64)
	handler := func(ev events.Event) error {
		select {
		case out <- ev:
		default:
		}
		return nil
	}
	for _, t := range []events.EventType{
		events.EventTypeS1Primer, events.EventTypeS2BuySignal, events.EventTypeS3Trending,
		events.EventTypeS2TrimFlag, events.EventTypeEmergencyExit, events.EventTypeFakeoutRecover,
		events.EventTypeResetToS0,
	} {
		subs = append(subs, s.bus.Subscribe(t, 0, handler))
	}
	defer func() {
		for _, sub := range subs {
			s.bus.Unsubscribe(sub)
		}
	}()

	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	// drain client reads in the background purely to notice disconnects.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			return
		case ev := <-out:
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
