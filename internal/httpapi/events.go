package httpapi

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const (
	wsWriteTimeout = 5 * time.Second
	wsPingInterval = 30 * time.Second
)

// handleEvents streams the caller's notifications as JSON text frames until
// the client goes away. Client frames are ignored.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	id, err := playerID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if s.d.Events == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"status": "events disabled"})
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
		OriginPatterns:  s.d.OriginPatterns,
	})
	if err != nil {
		s.log.Warn("ws_accept_failed", zap.String("player_id", id), zap.Error(err))
		return
	}
	defer conn.CloseNow()

	sub := s.d.Events.Subscribe(id)
	defer sub.Close()
	s.log.Info("ws_subscribed", zap.String("player_id", id))

	ctx := conn.CloseRead(r.Context())
	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("ws_closed", zap.String("player_id", id))
			return
		case ev, ok := <-sub.Events():
			if !ok {
				_ = conn.Close(websocket.StatusGoingAway, "subscription closed")
				return
			}
			wctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
			err := wsjson.Write(wctx, conn, ev)
			cancel()
			if err != nil {
				s.log.Warn("ws_write_failed", zap.String("player_id", id), zap.String("kind", string(ev.Kind)), zap.Error(err))
				return
			}
		case <-ping.C:
			pctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
			err := conn.Ping(pctx)
			cancel()
			if err != nil {
				return
			}
		}
	}
}
