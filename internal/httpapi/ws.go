package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

type wsClientMessage struct {
	Type    string `json:"type"`
	UserID  string `json:"user_id,omitempty"`
	Content string `json:"content"`
}

type wsServerMessage struct {
	Type  string `json:"type"`
	Turn  any    `json:"turn,omitempty"`
	Code  string `json:"code,omitempty"`
	Error string `json:"error,omitempty"`
}

// handleChatWS runs a simple request/response chat loop over a
// websocket: one client message in, one finished turn out.
func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "query parameter session_id is required")
		return
	}
	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Minute))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(10 * time.Minute))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		var msg wsClientMessage
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type != "message" || strings.TrimSpace(msg.Content) == "" {
			s.writeWS(conn, wsServerMessage{Type: "error", Code: "invalid_client_message", Error: "expected {type: message, content}"})
			continue
		}

		userID := strings.TrimSpace(msg.UserID)
		if userID == "" {
			userID = sess.UserID
		}

		result, err := s.orchestrator.ProcessTurn(r.Context(), sessionID, userID, msg.Content)
		if err != nil {
			s.writeWS(conn, wsServerMessage{Type: "error", Code: "turn_rejected", Error: err.Error()})
			continue
		}
		s.writeWS(conn, wsServerMessage{Type: "turn", Turn: result})
	}
}

func (s *Server) writeWS(conn *websocket.Conn, msg wsServerMessage) {
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	_ = conn.WriteJSON(msg)
}
