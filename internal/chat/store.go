// Package chat holds the local state of the chat view.
//
// A Store is owned by a single goroutine (the UI update loop) and is only
// changed through its methods; it does no locking of its own.
package chat

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"

	"PhantomQuery/internal/conversation"
	"PhantomQuery/internal/event"
)

// Outgoing is a user message accepted by Submit, ready for the transport
type Outgoing struct {
	MessageID string
	Envelope  event.SendMessage
}

// Store is the view state: conversation list, current thread and input box
type Store struct {
	conversations []conversation.Conversation
	currentID     conversation.ID
	hasCurrent    bool
	messages      []conversation.Message

	input        string
	clientID     string
	lastReceived *event.Received
	lastError    string

	ids    *snowflake.Node
	now    func() time.Time
	logger *slog.Logger
}

var _ event.Handler = (*Store)(nil)

// NewStore creates an empty store. nodeID seeds the local message id generator.
func NewStore(nodeID int64, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to create id generator: %w", err)
	}
	return &Store{ids: node, now: time.Now, logger: logger}, nil
}

func (s *Store) Conversations() []conversation.Conversation {
	return append([]conversation.Conversation(nil), s.conversations...)
}

// Current returns the current conversation id, if one is selected
func (s *Store) Current() (conversation.ID, bool) {
	return s.currentID, s.hasCurrent
}

// Messages returns the visible thread, which always belongs to Current
func (s *Store) Messages() []conversation.Message {
	return append([]conversation.Message(nil), s.messages...)
}

func (s *Store) Input() string    { return s.input }
func (s *Store) ClientID() string { return s.clientID }
func (s *Store) LastError() string {
	return s.lastError
}

// LastReceived returns the most recent inbound event, or nil
func (s *Store) LastReceived() *event.Received {
	return s.lastReceived
}

func (s *Store) SetInput(text string) {
	s.input = text
}

func (s *Store) ClearInput() {
	s.input = ""
}

// ReportError records a failure for display. State is otherwise untouched.
func (s *Store) ReportError(err error) {
	if err == nil {
		return
	}
	s.lastError = err.Error()
}

// KnowsConversation reports whether id is in the loaded conversation list
func (s *Store) KnowsConversation(id conversation.ID) bool {
	for _, c := range s.conversations {
		if c.ID == id {
			return true
		}
	}
	return false
}

// ConversationsLoaded replaces the conversation list. When nothing is
// selected yet, the first conversation becomes current and its id is
// returned with fetch set so the caller loads its messages.
func (s *Store) ConversationsLoaded(list []conversation.Conversation) (conversation.ID, bool) {
	s.conversations = append([]conversation.Conversation(nil), list...)
	if s.hasCurrent || len(list) == 0 {
		return "", false
	}
	s.SelectConversation(list[0].ID)
	return list[0].ID, true
}

// SelectConversation makes id current and empties the thread until its
// messages arrive
func (s *Store) SelectConversation(id conversation.ID) {
	s.currentID = id
	s.hasCurrent = true
	s.messages = nil
	s.logger.Debug("conversation selected", "conversation_id", id)
}

// MessagesLoaded installs msgs as the thread of id. Results for a
// conversation that is no longer current are dropped.
func (s *Store) MessagesLoaded(id conversation.ID, msgs []conversation.Message) bool {
	if !s.hasCurrent || id != s.currentID {
		s.logger.Debug("dropping messages for inactive conversation", "conversation_id", id, "current", s.currentID)
		return false
	}
	s.messages = make([]conversation.Message, len(msgs))
	for i, m := range msgs {
		if m.Status == "" {
			m.Status = conversation.StatusConfirmed
		}
		s.messages[i] = m
	}
	return true
}

// ConversationCreated switches to a freshly created conversation
func (s *Store) ConversationCreated(c conversation.Conversation) {
	if !s.KnowsConversation(c.ID) {
		s.conversations = append(s.conversations, c)
	}
	s.SelectConversation(c.ID)
}

// Submit turns the input box into a pending user message. Blank input is
// rejected and leaves the store unchanged.
func (s *Store) Submit() (Outgoing, bool) {
	if strings.TrimSpace(s.input) == "" {
		return Outgoing{}, false
	}

	msg := conversation.Message{
		ID:        s.ids.Generate().String(),
		Role:      conversation.RoleUser,
		Content:   s.input,
		Timestamp: s.now(),
		Status:    conversation.StatusPending,
	}
	s.messages = append(s.messages, msg)
	s.input = ""

	out := Outgoing{MessageID: msg.ID, Envelope: event.SendMessage{Content: msg.Content}}
	if s.hasCurrent {
		id := s.currentID
		out.Envelope.ConversationID = &id
	}
	return out, true
}

// MarkSent records that the transport accepted the message
func (s *Store) MarkSent(messageID string) {
	s.setStatus(messageID, conversation.StatusSent)
}

// MarkFailed records that the message could not be handed to the transport
func (s *Store) MarkFailed(messageID string) {
	s.setStatus(messageID, conversation.StatusFailed)
}

func (s *Store) setStatus(messageID string, status conversation.Status) {
	for i := range s.messages {
		if s.messages[i].ID == messageID {
			s.messages[i].Status = status
			return
		}
	}
}

func (s *Store) OnTranscription(e event.Transcription) {
	s.input = e.Text
}

// OnAIResponse appends the reply to the current thread and confirms the
// user messages that were sent before it. A reply for another conversation
// is not shown.
func (s *Store) OnAIResponse(e event.AIResponse) {
	if e.ConversationID != "" {
		switch {
		case !s.hasCurrent:
			s.currentID = e.ConversationID
			s.hasCurrent = true
		case e.ConversationID != s.currentID:
			s.logger.Info("ai response for inactive conversation", "conversation_id", e.ConversationID)
			return
		}
	}

	for i := range s.messages {
		if s.messages[i].Status == conversation.StatusSent {
			s.messages[i].Status = conversation.StatusConfirmed
		}
	}
	s.messages = append(s.messages, conversation.Message{
		ID:        s.ids.Generate().String(),
		Role:      conversation.RoleAssistant,
		Content:   e.Content,
		Timestamp: s.now(),
		Status:    conversation.StatusConfirmed,
	})
}

func (s *Store) OnInputCleared() {
	s.input = ""
}

func (s *Store) OnClientID(e event.ClientID) {
	s.clientID = e.ClientID
}

func (s *Store) OnServerError(e event.ServerError) {
	s.lastError = e.Message
}

func (s *Store) OnReceived(r event.Received) {
	s.lastReceived = &r
}
