package wsclient

import (
	"bytes"
	"context"
	"time"

	"github.com/gorilla/websocket"
)

var pongFrame = []byte("PONG")

// readLoop keeps the connection alive with text PINGs and hands every data
// frame to the handler. It returns on any read error or when ctx ends.
func (w *Worker) readLoop(ctx context.Context, ws *websocket.Conn) {
	extend := func() { _ = ws.SetReadDeadline(time.Now().Add(w.cfg.ReadTimeout)) }
	extend()
	ws.SetPongHandler(func(string) error {
		extend()
		return nil
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(w.cfg.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				w.closeConn()
				return
			case <-ticker.C:
				w.writeMu.Lock()
				err := ws.WriteMessage(websocket.TextMessage, []byte("PING"))
				w.writeMu.Unlock()
				if err != nil {
					w.log.Warn("ping failed", "err", err)
					return
				}
			}
		}
	}()

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				w.log.Warn("read error", "err", err)
			}
			return
		}
		extend()
		if bytes.Equal(bytes.TrimSpace(raw), pongFrame) {
			continue
		}
		w.handler.HandleFrame(raw)
	}
}
