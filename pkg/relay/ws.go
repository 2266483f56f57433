package relay

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/vango-go/village-live/pkg/core"
	"github.com/vango-go/village-live/pkg/live/protocol"
	"github.com/vango-go/village-live/pkg/village"
)

const connectedMessage = "Connected to village relay"

// wsPeer serializes writes to one gorilla connection.
type wsPeer struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	mu sync.Mutex
}

func (p *wsPeer) WriteFrame(frame []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.conn.SetWriteDeadline(time.Now().Add(p.writeTimeout))
	return p.conn.WriteMessage(websocket.TextMessage, frame)
}

func (p *wsPeer) Close() error { return p.conn.Close() }

func (p *wsPeer) send(ev protocol.Event) error {
	frame, err := protocol.EncodeEvent(ev)
	if err != nil {
		return err
	}
	return p.WriteFrame(frame)
}

func (s *Server) serveWS(c echo.Context) error {
	if s.IsDraining() {
		return &core.Error{Type: core.ErrOverloaded, Message: "relay is draining", Code: "draining"}
	}
	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// The upgrader has already written the failure response.
		return nil
	}
	conn.SetReadLimit(s.cfg.MaxFrameBytes)

	peer := &wsPeer{conn: conn, writeTimeout: s.cfg.WriteTimeout}
	unregister := s.hub.Register(peer)
	defer func() {
		unregister()
		_ = conn.Close()
	}()

	logger := s.logger.With("request_id", requestIDFrom(c), "remote_addr", c.RealIP())
	logger.Debug("dashboard connected")

	hello := protocol.Connected{Message: connectedMessage, Timestamp: village.NewTimestamp(s.now().UTC())}
	if err := peer.send(hello); err != nil {
		return nil
	}

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("dashboard read ended", "error", err)
			}
			return nil
		}
		if messageType != websocket.TextMessage {
			if err := peer.send(protocol.ServerError{Message: "frames must be text", Code: protocol.CodeBadRequest}); err != nil {
				return nil
			}
			continue
		}

		if err := s.handleDirective(logger, peer, data); err != nil {
			logger.Debug("dashboard write failed", "error", err)
			return nil
		}
	}
}

// handleDirective answers subscribe_call and ping. Unknown directive types
// are logged and skipped; only malformed frames get an error reply.
func (s *Server) handleDirective(logger *slog.Logger, peer *wsPeer, data []byte) error {
	msg, err := protocol.DecodeClientMessage(data)
	if err != nil {
		var de *protocol.DecodeError
		if errors.As(err, &de) {
			if de.Code == protocol.CodeUnsupported {
				logger.Info("unknown directive ignored", "error", de.Error())
				return nil
			}
			return peer.send(protocol.ServerError{Message: de.Error(), Code: de.Code})
		}
		return peer.send(protocol.ServerError{Message: err.Error()})
	}

	switch m := msg.(type) {
	case protocol.ClientSubscribe:
		s.hub.Subscribe(peer, m.CallID)
		return peer.send(protocol.Subscribed{CallID: m.CallID})
	case protocol.ClientPing:
		return peer.send(protocol.Pong{})
	default:
		logger.Info("unknown directive ignored", "directive", fmt.Sprintf("%T", m))
		return nil
	}
}
