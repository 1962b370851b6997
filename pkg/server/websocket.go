package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/panelgate/panelgate/pkg/auth"
)

// authMessageLimit bounds the authentication message. Larger frames close
// the socket with 1009 before the payload is read.
const authMessageLimit = 4 << 10

// socketAuthRequest is the first message a socket sends when the upgrade
// request carried no credentials.
type socketAuthRequest struct {
	Authenticate string `json:"authenticate"`
}

// socketAuthResult answers a socketAuthRequest.
type socketAuthResult struct {
	AuthResult string `json:"authresult"`
}

// handleWebSocket upgrades panel sockets. Sockets whose upgrade request is
// authorized by query or header join the hub directly; others must send a
// socketAuthRequest within the configured timeout.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	authorized := s.gate.IsAuthorized(r)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	if !authorized && !s.authenticateSocket(conn) {
		s.metrics.Record(auth.TransportWebSocket, false)
		if s.debug.Enabled() {
			s.debug.Println(fmt.Sprintf("401 %s: %s", r.Method, r.URL.Path))
		}
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "unauthorized"),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}

	s.metrics.Record(auth.TransportWebSocket, true)
	s.hub.serve(conn)
}

func (s *Server) authenticateSocket(conn *websocket.Conn) bool {
	if timeout := s.cfg.WebSocket.AuthTimeout; timeout > 0 {
		conn.SetReadDeadline(time.Now().Add(timeout))
	}

	conn.SetReadLimit(authMessageLimit)

	var req socketAuthRequest
	if err := conn.ReadJSON(&req); err != nil {
		s.logger.Debug("websocket authentication not received", slog.String("error", err.Error()))
		return false
	}

	ok := s.gate.IsAuthorizedCredentials("", req.Authenticate)
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(socketAuthResult{AuthResult: strconv.FormatBool(ok)}); err != nil {
		return false
	}
	conn.SetReadDeadline(time.Time{})
	conn.SetWriteDeadline(time.Time{})
	return ok
}
