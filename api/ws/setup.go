package ws

import (
	"context"
	"net/http"

	"github.com/SphrGhfri/tabchat/internal/relay"
	"github.com/SphrGhfri/tabchat/pkg/logger"
)

type WSConfig struct {
	Hub     *relay.Hub
	RootCtx context.Context
}

func SetupWebSocketRoutes(cfg WSConfig) http.Handler {
	mux := http.NewServeMux()
	log := logger.FromContext(cfg.RootCtx).WithModule("websocket")
	mux.HandleFunc("/ws/chat", HandleRelay(cfg.Hub, log))
	return mux
}
