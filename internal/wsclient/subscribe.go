package wsclient

import (
	"github.com/gorilla/websocket"
)

type subscribeRequest struct {
	Type                  string   `json:"type"`
	Assets                []string `json:"assets_ids"`
	CustomFeaturesEnabled bool     `json:"custom_feature_enabled,omitempty"`
}

// Subscribe sends the market channel subscription. The server answers with a
// book event per asset, which seeds or refreshes the local book.
func (w *Worker) subscribe(ws *websocket.Conn, assets []string) error {
	req := subscribeRequest{Type: "market", Assets: assets}
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	if err := ws.WriteJSON(req); err != nil {
		return err
	}
	w.log.Info("subscribed", "assets", len(assets))
	return nil
}
