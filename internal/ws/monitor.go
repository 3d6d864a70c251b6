package ws

import (
	"encoding/json"
	"net/http"
	"slices"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"queuewatch/internal/auth"
)

type HandlerConfig struct {
	// Secret enables the token gate when set.
	Secret string

	// AllowedOrigins for the upgrade; "*" accepts any. Empty means same
	// origin only.
	AllowedOrigins []string
}

// Monitor upgrades observers and registers them with the hub.
func Monitor(hub *Hub, cfg HandlerConfig, logger zerolog.Logger) http.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	if len(cfg.AllowedOrigins) > 0 {
		upgrader.CheckOrigin = checkOrigin(cfg.AllowedOrigins)
	}

	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.Secret != "" {
			token := auth.TokenFromRequest(r)
			if token == "" {
				http.Error(w, "token required", http.StatusUnauthorized)
				return
			}
			if _, err := auth.ParseToken(token, cfg.Secret); err != nil {
				logger.Debug().Err(err).Msg("rejected observer token")
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn().Err(err).Msg("failed to upgrade connection")
			return
		}

		c := NewClient(hub, conn, logger)
		if !hub.Register(c) {
			conn.Close()
			return
		}
		c.Start()
	}
}

// Queues serves the current snapshot, the same payload as initial-state.
func Queues(state SnapshotSource, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(state.Snapshot()); err != nil {
			logger.Warn().Err(err).Msg("failed to write snapshot")
		}
	}
}

func checkOrigin(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		return slices.Contains(allowed, "*") || slices.Contains(allowed, origin)
	}
}
