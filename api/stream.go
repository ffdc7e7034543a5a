package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kilianp07/fleetrisk/core/events"
	"github.com/kilianp07/fleetrisk/core/model"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// streamMessage is pushed for every committed aggregate.
type streamMessage struct {
	Type       string                  `json:"type"`
	Statistics model.VehicleStatistics `json:"statistics"`
}

// handleStream pushes vehicle statistics updates until the client goes
// away or the server closes. A slow client misses updates rather than
// slowing ingestion.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnf("websocket upgrade: %v", err)
		return
	}
	defer func() { _ = conn.Close() }()

	sub := s.bus.Subscribe()
	defer s.bus.Unsubscribe(sub)

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-s.done:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutdown"), time.Now().Add(writeWait))
			return
		case <-gone:
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case ev, ok := <-sub:
			if !ok {
				return
			}
			upd, isStats := ev.(events.StatsUpdated)
			if !isStats {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(streamMessage{Type: "statistics", Statistics: upd.Stats}); err != nil {
				return
			}
		}
	}
}
