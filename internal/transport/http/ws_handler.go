package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"medquiz-service/internal/app"
)

const (
	wsWriteWait  = 10 * time.Second
	wsReadLimit  = 4096
	wsSendBuffer = 16
)

// WSHandler streams session updates and accepts session moves over a websocket.
type WSHandler struct {
	sessions *app.SessionService
	upgrader websocket.Upgrader
	log      *zap.Logger
}

func NewWSHandler(sessions *app.SessionService, log *zap.Logger) *WSHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &WSHandler{
		sessions: sessions,
		log:      log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type choicePayload struct {
	Choice string `json:"choice"`
}

type retryPayload struct {
	APIKey string `json:"apiKey"`
}

type outboundMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

type errorPayload struct {
	Message string `json:"message"`
	Kind    string `json:"kind"`
}

// ServeWS subscribes to the session before upgrading so unknown sessions get a plain 404.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request, sessionID, userID string) {
	updates, cancel, err := h.sessions.Subscribe(r.Context(), sessionID, userID)
	if err != nil {
		status, kind := classify(err)
		writeJSON(w, status, errorResponse{Error: err.Error(), Kind: kind})
		return
	}
	defer cancel()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()
	conn.SetReadLimit(wsReadLimit)

	send := make(chan outboundMessage, wsSendBuffer)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for msg := range send {
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(msg); err != nil {
				h.log.Debug("ws write error", zap.String("session", sessionID), zap.Error(err))
				return
			}
			if msg.Type == "closed" {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"),
					time.Now().Add(wsWriteWait))
				return
			}
		}
	}()

	push := func(msg outboundMessage) bool {
		select {
		case send <- msg:
			return true
		case <-writerDone:
			return false
		}
	}

	go func() {
		defer close(updatesDone)
		for {
			select {
			case update, ok := <-updates:
				if !ok {
					push(outboundMessage{Type: "closed"})
					return
				}
				select {
				case send <- outboundMessage{Type: "update", Payload: update}:
				case <-writerDone:
					return
				case <-closeSignals:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		if err := h.dispatch(r, sessionID, userID, inbound); err != nil {
			_, kind := classify(err)
			if !push(outboundMessage{Type: "error", Payload: errorPayload{Message: err.Error(), Kind: kind}}) {
				break
			}
		}
	}

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
}

// dispatch applies one client move; the resulting view arrives through the update stream.
func (h *WSHandler) dispatch(r *http.Request, sessionID, userID string, msg inboundMessage) error {
	ctx := r.Context()
	var err error
	switch msg.Type {
	case "answer":
		var payload choicePayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return errInvalidPayload
		}
		_, err = h.sessions.Answer(ctx, sessionID, userID, payload.Choice)
	case "next":
		_, err = h.sessions.Advance(ctx, sessionID, userID)
	case "finish":
		_, err = h.sessions.Finish(ctx, sessionID, userID)
	case "restart":
		_, err = h.sessions.Restart(ctx, sessionID, userID)
	case "retry":
		var payload retryPayload
		if len(msg.Payload) > 0 {
			if err := json.Unmarshal(msg.Payload, &payload); err != nil {
				return errInvalidPayload
			}
		}
		_, err = h.sessions.Retry(ctx, sessionID, userID, payload.APIKey)
	default:
		return errUnsupportedMessage
	}
	return err
}
