package ws

import (
	"net/http"

	gws "github.com/gorilla/websocket"

	"github.com/SphrGhfri/tabchat/internal/relay"
	"github.com/SphrGhfri/tabchat/pkg/logger"
)

// The relay is an open echo endpoint; any origin may join.
var upgrader = gws.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func HandleRelay(hub *relay.Hub, logg logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logg.Errorf("[WS HANDLER] Upgrade error: %v", err)
			http.Error(w, "Failed to upgrade", http.StatusInternalServerError)
			return
		}

		logg.Infof("[WS HANDLER] New relay connection from %s", conn.RemoteAddr())
		client := relay.NewConnection(conn, hub, logg)
		go client.Serve()
	}
}
