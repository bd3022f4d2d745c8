package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"

	"github.com/gorilla/websocket"

	"github.com/BioHazard786/meshcall/internal/relay"
	"github.com/BioHazard786/meshcall/internal/version"
)

// NewUpgrader configures the websocket upgrader. Browser connections are
// checked against allowedOrigins; an empty list allows every origin, and
// requests without an Origin header (the CLI) are always allowed.
func NewUpgrader(allowedOrigins []string) *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  64 * 1024, // 64 KB
		WriteBufferSize: 64 * 1024, // 64 KB
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || len(allowedOrigins) == 0 {
				return true
			}
			return slices.Contains(allowedOrigins, origin)
		},
	}
}

// ServeWs returns an http.HandlerFunc that handles websocket requests.
// It takes the hub as a dependency.
func ServeWs(hub *relay.Hub, upgrader *websocket.Upgrader, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn("failed to upgrade connection", "addr", r.RemoteAddr, "err", err)
			return
		}

		client := hub.NewClient(conn, r.RemoteAddr)

		select {
		case hub.Register <- client:
		case <-hub.Done():
			conn.Close()
			return
		}

		// These methods handle the client's lifecycle
		go client.WritePump()
		go client.ReadPump()
	}
}

// healthResponse is the body of GET /health.
type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	relay.Stats
}

func healthCheckHandler(hub *relay.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(healthResponse{
			Status:  "ok",
			Version: version.Version,
			Stats:   hub.Stats(),
		})
	}
}

// NewMux registers the relay routes.
func NewMux(hub *relay.Hub, allowedOrigins []string, log *slog.Logger) *http.ServeMux {
	if log == nil {
		log = slog.Default()
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", healthCheckHandler(hub))
	mux.HandleFunc("GET /ws", ServeWs(hub, NewUpgrader(allowedOrigins), log))
	return mux
}
