package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/net/websocket"

	"github.com/Anomyking/RP/internal/repo"
	"github.com/Anomyking/RP/internal/ws"
)

// registerWS mounts the realtime channel outside the API base path.
// Browsers cannot set headers on a WebSocket dial, so the token may
// ride in the `token` query parameter instead of Authorization.
func registerWS(router chi.Router, cfg AuthConfig, r repo.Repo, hub *ws.Hub) {
	if hub == nil {
		return
	}
	logger := cfg.logger()

	handler := websocket.Handler(func(conn *websocket.Conn) {
		defer conn.Close()
		req := conn.Request()
		principal, ok := principalFromContext(req.Context())
		if !ok {
			return
		}

		peer := ws.NewPeer(conn)
		if err := hub.Connect(req.Context(), principal.ID, peer); err != nil {
			logger.Printf("ws: connect %s: %v", principal.ID, err)
			hub.Disconnect(principal.ID, peer)
			return
		}
		defer hub.Disconnect(principal.ID, peer)

		dec := json.NewDecoder(conn)
		for {
			var frame ws.Frame
			if err := dec.Decode(&frame); err != nil {
				if !errors.Is(err, io.EOF) {
					logger.Printf("ws: read %s: %v", principal.ID, err)
				}
				return
			}
			switch frame.Type {
			case ws.FrameAck:
				handleAckFrame(req, r, principal.ID, peer, frame, logger)
			case ws.FrameDisconnect:
				return
			default:
				// Ignore unknown frame types; protocol stays open to
				// additions without breaking old clients.
			}
		}
	})

	router.Get("/ws", func(w http.ResponseWriter, req *http.Request) {
		token := strings.TrimSpace(req.URL.Query().Get("token"))
		if token == "" {
			if bearer, ok := bearerToken(req.Header.Get("Authorization")); ok {
				token = bearer
			}
		}
		principal, err := authenticateToken(req.Context(), r, token, cfg.JWTSecret)
		if err != nil {
			respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
			return
		}
		handler.ServeHTTP(w, req.WithContext(withPrincipal(req.Context(), principal)))
	})
}

type ackFramePayload struct {
	NotificationID string `json:"notification_id"`
}

func handleAckFrame(req *http.Request, r repo.Repo, principalID string, peer *ws.Peer, frame ws.Frame, logger interface{ Printf(string, ...any) }) {
	raw, err := json.Marshal(frame.Payload)
	if err != nil {
		return
	}
	var payload ackFramePayload
	if err := json.Unmarshal(raw, &payload); err != nil || payload.NotificationID == "" {
		logger.Printf("ws: malformed ack from %s", principalID)
		return
	}
	ts := time.Now().UTC().Format(time.RFC3339)
	n, err := r.MarkRead(req.Context(), payload.NotificationID, principalID, ts)
	if err != nil {
		logger.Printf("ws: ack %s from %s: %v", payload.NotificationID, principalID, err)
		return
	}
	if err := peer.Send(ws.Frame{Type: ws.FrameAck, Payload: n}); err != nil {
		logger.Printf("ws: ack reply to %s: %v", principalID, err)
	}
}
