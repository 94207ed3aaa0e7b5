package server

import (
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"PhantomQuery/internal/event"
)

const maxFrameSize = 1 << 20

// handleSocket upgrades the request and serves commands until the client
// goes away. Replies are written by the hub's write pump.
func (s *Server) handleSocket(c *gin.Context) {
	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("failed to upgrade socket", "error", err)
		return
	}
	ws.SetReadLimit(maxFrameSize)

	id, err := s.hub.Register(ws)
	if err != nil {
		s.logger.Warn("refusing socket", "error", err)
		return
	}
	defer s.hub.Unregister(id)

	if err := s.hub.SendTo(id, event.ClientID{ClientID: id}); err != nil {
		s.logger.Error("failed to send client id", "client_id", id, "error", err)
		return
	}

	for {
		kind, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("socket read failed", "client_id", id, "error", err)
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		s.handleCommand(id, data)
	}
}

func (s *Server) handleCommand(id string, data []byte) {
	cmd, err := event.DecodeCommand(data)
	if err != nil {
		s.logger.Warn("ignoring malformed command", "client_id", id, "error", err)
		s.reply(id, event.ServerError{Message: "Error processing message: " + err.Error()})
		return
	}

	switch cmd := cmd.(type) {
	case event.Connection:
		s.logger.Info("client says hello", "client_id", id, "message", cmd.Message)
	case event.SendMessage:
		if !s.goExchange(func() { s.handleSendMessage(id, cmd) }) {
			s.logger.Warn("refusing message during shutdown", "client_id", id)
			s.reply(id, event.ServerError{Message: "Server is shutting down"})
		}
	case event.ClearInput:
		s.logger.Info("input cleared", "client_id", id)
		s.reply(id, event.InputCleared{})
	case event.UnknownCommand:
		s.logger.Warn("unknown command type", "client_id", id, "type", cmd.Tag)
	}
}

func (s *Server) handleSendMessage(id string, cmd event.SendMessage) {
	convID, reply, err := s.svc.Reply(s.ctx, cmd.ConversationID, cmd.Content)
	if err != nil {
		s.logger.Error("failed to answer message", "client_id", id, "error", err)
		s.reply(id, event.ServerError{Message: "Error processing message: " + err.Error()})
		return
	}
	s.reply(id, event.AIResponse{Content: reply, ConversationID: convID})
	s.logger.Info("ai response sent", "client_id", id, "conversation_id", convID)
}

// reply drops v when the client has already disconnected
func (s *Server) reply(id string, v event.Tagged) {
	if err := s.hub.SendTo(id, v); err != nil {
		s.logger.Warn("failed to reply", "client_id", id, "type", v.Type(), "error", err)
	}
}
