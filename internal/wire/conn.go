package wire

import (
	"context"
	"encoding/json"
	"errors"
	"net"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// handleConn services one accepted connection until it disconnects or
// upgrades itself into a notifier via register_notifier, in which case it
// blocks relaying bus notifications instead of reading further requests.
// Every log line for the connection's lifetime carries a generated conn_id
// so concurrent clients can be told apart in the daemon's logs.
func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	log := s.log.With(zap.String("conn_id", uuid.NewString()))

	cred, ok := readPeerCredentials(conn)
	if ok {
		log.Debug("connection accepted", zap.Int32("peer_pid", cred.PID), zap.Uint32("peer_uid", cred.UID))
	} else {
		log.Debug("connection accepted")
	}

	frameType, payload, err := ReadFrame(conn)
	if err != nil {
		if !errors.Is(err, ErrConnectionClosed) {
			log.Debug("initial read failed", zap.Error(err))
		}
		return
	}
	if frameType != FrameJSON {
		log.Warn("first frame on connection was not JSON, closing")
		return
	}

	var req Request
	if err := json.Unmarshal(payload, &req); err != nil {
		s.writeError(conn, "malformed request")
		return
	}

	if req.commandOf() == cmdRegisterNotifier {
		s.serveNotifier(conn, req.SessionID, log)
		return
	}

	if s.serveRequest(conn, req, payload, log) {
		s.requestLoop(conn, log)
	}
}

// requestLoop handles every subsequent framed request on a connection that
// didn't upgrade to a notifier.
func (s *Server) requestLoop(conn net.Conn, log *zap.Logger) {
	for {
		frameType, payload, err := ReadFrame(conn)
		if err != nil {
			if !errors.Is(err, ErrConnectionClosed) {
				log.Debug("connection read failed", zap.Error(err))
			}
			return
		}
		if frameType != FrameJSON {
			s.writeError(conn, "expected JSON frame")
			continue
		}

		var req Request
		if err := json.Unmarshal(payload, &req); err != nil {
			s.writeError(conn, "malformed request")
			continue
		}
		if !s.serveRequest(conn, req, payload, log) {
			return
		}
	}
}

// serveRequest dispatches one decoded request and writes its response.
// Returns false if the connection should be closed (shutdown command).
func (s *Server) serveRequest(conn net.Conn, req Request, raw []byte, log *zap.Logger) bool {
	command := req.commandOf()
	handler, ok := s.handler[command]
	if !ok {
		s.writeError(conn, "unknown command: "+command)
		return true
	}

	if err := s.validateBody(command, raw); err != nil {
		s.writeError(conn, err.Error())
		return true
	}

	resp, err := handler(context.Background(), s, req.SessionID, raw)
	if err != nil {
		log.Warn("handler failed", zap.String("command", command), zap.Error(err))
		s.writeError(conn, err.Error())
		return true
	}

	s.writeResponse(conn, resp)
	return command != CmdShutdown
}

// serveNotifier upgrades conn into a listener on the bus, relaying every
// notification until the connection drops, at which point the session's
// notifier count is decremented.
func (s *Server) serveNotifier(conn net.Conn, sessionID string, log *zap.Logger) {
	if s.bus == nil {
		return
	}
	s.registerNotifier(sessionID)
	defer s.unregisterNotifier(sessionID)

	ch := s.bus.Subscribe()
	defer s.bus.Unsubscribe(ch)

	// Session filtering already happened in the bus's dispatch loop; every
	// notification reaching ch is meant for this listener.
	for n := range ch {
		payload, err := json.Marshal(wireNotification{Type: string(n.Type), Data: n.Data, SessionID: n.SessionID})
		if err != nil {
			continue
		}
		if err := WriteFrame(conn, FrameJSON, payload); err != nil {
			log.Debug("notifier write failed, dropping connection", zap.Error(err))
			return
		}
	}
}

type wireNotification struct {
	Type      string `json:"type"`
	Data      any    `json:"data"`
	SessionID string `json:"session_id,omitempty"`
}

func (s *Server) writeResponse(conn net.Conn, resp Response) {
	payload, err := json.Marshal(resp)
	if err != nil {
		s.log.Error("failed to marshal response", zap.Error(err))
		return
	}
	if err := WriteFrame(conn, FrameJSON, payload); err != nil {
		s.log.Debug("failed to write response frame", zap.Error(err))
	}
}

func (s *Server) writeError(conn net.Conn, message string) {
	s.writeResponse(conn, newErrorResponse(message))
}
