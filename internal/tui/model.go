// Package tui is the terminal display surface: a conversation sidebar, the
// current thread and a multi-line input.
package tui

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/atotto/clipboard"
	tea "github.com/charmbracelet/bubbletea"

	"PhantomQuery/internal/chat"
	"PhantomQuery/internal/conversation"
	"PhantomQuery/internal/event"
	"PhantomQuery/internal/transport"
)

// API is the REST surface the view needs
type API interface {
	ListConversations(ctx context.Context) ([]conversation.Conversation, error)
	ListMessages(ctx context.Context, id conversation.ID) ([]conversation.Message, error)
	CreateConversation(ctx context.Context, title string) (conversation.Conversation, error)
}

// Sender writes commands to the live channel
type Sender interface {
	Send(v event.Tagged) error
	State() transport.State
}

// FrameMsg carries one inbound transport frame into the update loop
type FrameMsg struct {
	Data []byte
}

// TransportClosedMsg reports that the live channel dropped
type TransportClosedMsg struct {
	Err error
}

type conversationsLoadedMsg struct {
	list []conversation.Conversation
}

type messagesLoadedMsg struct {
	id   conversation.ID
	msgs []conversation.Message
}

type conversationCreatedMsg struct {
	conv conversation.Conversation
}

type errMsg struct {
	op  string
	err error
}

type focusArea int

const (
	focusInput focusArea = iota
	focusSidebar
)

// Model is the bubbletea model. All state lives in the chat store, which
// is only touched from Update.
type Model struct {
	ctx        context.Context
	store      *chat.Store
	dispatcher *event.Dispatcher
	api        API
	sender     Sender
	logger     *slog.Logger
	copy       func(string) error

	focus  focusArea
	cursor int // sidebar row; 0 is the new chat control
	notice string
	width  int
	height int
}

// New wires a view around store. The dispatcher must deliver to the same store.
func New(store *chat.Store, dispatcher *event.Dispatcher, api API, sender Sender, logger *slog.Logger) (*Model, error) {
	switch {
	case store == nil:
		return nil, fmt.Errorf("store cannot be nil")
	case dispatcher == nil:
		return nil, fmt.Errorf("dispatcher cannot be nil")
	case api == nil:
		return nil, fmt.Errorf("api cannot be nil")
	case sender == nil:
		return nil, fmt.Errorf("sender cannot be nil")
	case logger == nil:
		return nil, fmt.Errorf("logger cannot be nil")
	}
	return &Model{
		ctx:        context.Background(),
		store:      store,
		dispatcher: dispatcher,
		api:        api,
		sender:     sender,
		logger:     logger,
		copy:       clipboard.WriteAll,
		width:      100,
		height:     30,
	}, nil
}

func (m *Model) Init() tea.Cmd {
	return m.loadConversations()
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case FrameMsg:
		return m, m.handleFrame(msg.Data)

	case TransportClosedMsg:
		if msg.Err != nil {
			m.store.ReportError(fmt.Errorf("connection lost: %w", msg.Err))
		}
		m.logger.Warn("transport closed", "error", msg.Err)
		return m, nil

	case conversationsLoadedMsg:
		id, fetch := m.store.ConversationsLoaded(msg.list)
		m.clampCursor()
		if fetch {
			return m, m.loadMessages(id)
		}
		return m, nil

	case messagesLoadedMsg:
		m.store.MessagesLoaded(msg.id, msg.msgs)
		return m, nil

	case conversationCreatedMsg:
		m.store.ConversationCreated(msg.conv)
		m.cursor = m.sidebarRow(msg.conv.ID)
		m.focus = focusInput
		return m, nil

	case errMsg:
		m.logger.Error("request failed", "op", msg.op, "error", msg.err)
		m.store.ReportError(fmt.Errorf("%s: %w", msg.op, msg.err))
		return m, nil
	}
	return m, nil
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC, tea.KeyEsc:
		return m, tea.Quit
	case tea.KeyTab:
		if m.focus == focusInput {
			m.focus = focusSidebar
		} else {
			m.focus = focusInput
		}
		return m, nil
	case tea.KeyCtrlN:
		return m, m.createConversation()
	case tea.KeyCtrlL:
		m.clearInput()
		return m, nil
	case tea.KeyCtrlY:
		m.copyLastReply()
		return m, nil
	}

	if m.focus == focusSidebar {
		return m, m.handleSidebarKey(msg)
	}
	m.handleInputKey(msg)
	return m, nil
}

func (m *Model) handleSidebarKey(msg tea.KeyMsg) tea.Cmd {
	switch msg.Type {
	case tea.KeyUp:
		if m.cursor > 0 {
			m.cursor--
		}
	case tea.KeyDown:
		if m.cursor < len(m.store.Conversations()) {
			m.cursor++
		}
	case tea.KeyEnter:
		if m.cursor == 0 {
			return m.createConversation()
		}
		list := m.store.Conversations()
		c := list[m.cursor-1]
		m.store.SelectConversation(c.ID)
		m.focus = focusInput
		return m.loadMessages(c.ID)
	}
	return nil
}

func (m *Model) handleInputKey(msg tea.KeyMsg) {
	input := m.store.Input()
	switch {
	case msg.Type == tea.KeyEnter && msg.Alt, msg.Type == tea.KeyCtrlJ:
		m.store.SetInput(input + "\n")
	case msg.Type == tea.KeyEnter:
		m.submit()
	case msg.Type == tea.KeyBackspace:
		if r := []rune(input); len(r) > 0 {
			m.store.SetInput(string(r[:len(r)-1]))
		}
	case msg.Type == tea.KeySpace:
		m.store.SetInput(input + " ")
	case msg.Type == tea.KeyRunes:
		m.store.SetInput(input + strings.ReplaceAll(string(msg.Runes), "\r", "\n"))
	}
}

// submit hands the input to the transport. A send that fails leaves the
// message marked failed; nothing is queued for later.
func (m *Model) submit() {
	out, ok := m.store.Submit()
	if !ok {
		return
	}
	if err := m.sender.Send(out.Envelope); err != nil {
		m.logger.Error("failed to send message", "error", err)
		m.store.MarkFailed(out.MessageID)
		m.store.ReportError(err)
		return
	}
	m.store.MarkSent(out.MessageID)
}

func (m *Model) clearInput() {
	m.store.ClearInput()
	if m.sender.State() != transport.StateOpen {
		return
	}
	if err := m.sender.Send(event.ClearInput{}); err != nil {
		m.logger.Warn("failed to send clear input", "error", err)
	}
}

func (m *Model) copyLastReply() {
	msgs := m.store.Messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role != conversation.RoleAssistant {
			continue
		}
		if err := m.copy(strings.ReplaceAll(msgs[i].Content, "\x00", "")); err != nil {
			m.store.ReportError(fmt.Errorf("copy failed: %w", err))
			return
		}
		m.notice = "Copied reply to clipboard"
		return
	}
	m.notice = "Nothing to copy"
}

func (m *Model) handleFrame(data []byte) tea.Cmd {
	ev, err := m.dispatcher.Dispatch(data)
	if err != nil {
		m.store.ReportError(err)
		return nil
	}
	// A reply may name a conversation the server just created
	if r, ok := ev.(event.AIResponse); ok && r.ConversationID != "" && !m.store.KnowsConversation(r.ConversationID) {
		return m.loadConversations()
	}
	return nil
}

func (m *Model) loadConversations() tea.Cmd {
	return func() tea.Msg {
		list, err := m.api.ListConversations(m.ctx)
		if err != nil {
			return errMsg{op: "load conversations", err: err}
		}
		return conversationsLoadedMsg{list: list}
	}
}

func (m *Model) loadMessages(id conversation.ID) tea.Cmd {
	return func() tea.Msg {
		msgs, err := m.api.ListMessages(m.ctx, id)
		if err != nil {
			return errMsg{op: "load messages", err: err}
		}
		return messagesLoadedMsg{id: id, msgs: msgs}
	}
}

func (m *Model) createConversation() tea.Cmd {
	return func() tea.Msg {
		c, err := m.api.CreateConversation(m.ctx, conversation.DefaultTitle)
		if err != nil {
			return errMsg{op: "create conversation", err: err}
		}
		return conversationCreatedMsg{conv: c}
	}
}

func (m *Model) sidebarRow(id conversation.ID) int {
	for i, c := range m.store.Conversations() {
		if c.ID == id {
			return i + 1
		}
	}
	return 0
}

func (m *Model) clampCursor() {
	if n := len(m.store.Conversations()); m.cursor > n {
		m.cursor = n
	}
}
