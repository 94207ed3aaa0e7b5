package tui

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"PhantomQuery/internal/chat"
	"PhantomQuery/internal/conversation"
	"PhantomQuery/internal/event"
	"PhantomQuery/internal/transport"
)

type fakeAPI struct {
	conversations []conversation.Conversation
	messages      map[conversation.ID][]conversation.Message
	listErr       error
	created       []string
	messageCalls  []conversation.ID
}

func (f *fakeAPI) ListConversations(context.Context) ([]conversation.Conversation, error) {
	return f.conversations, f.listErr
}

func (f *fakeAPI) ListMessages(_ context.Context, id conversation.ID) ([]conversation.Message, error) {
	f.messageCalls = append(f.messageCalls, id)
	return f.messages[id], nil
}

func (f *fakeAPI) CreateConversation(_ context.Context, title string) (conversation.Conversation, error) {
	f.created = append(f.created, title)
	return conversation.Conversation{ID: "new", Title: title}, nil
}

type fakeSender struct {
	state transport.State
	sent  []event.Tagged
}

func (f *fakeSender) Send(v event.Tagged) error {
	if f.state != transport.StateOpen {
		return transport.ErrNotReady
	}
	f.sent = append(f.sent, v)
	return nil
}

func (f *fakeSender) State() transport.State { return f.state }

// drain runs cmd and feeds resulting messages back into the model until
// nothing is left
func drain(m *Model, cmd tea.Cmd) {
	for cmd != nil {
		msg := cmd()
		if msg == nil {
			return
		}
		_, cmd = m.Update(msg)
	}
}

func typeText(m *Model, s string) {
	m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)})
}

var _ = Describe("Model", func() {
	var (
		api    *fakeAPI
		sender *fakeSender
		store  *chat.Store
		m      *Model
	)

	BeforeEach(func() {
		logger := slog.New(slog.NewTextHandler(io.Discard, nil))
		api = &fakeAPI{
			conversations: []conversation.Conversation{{ID: "1", Title: "First"}, {ID: "2", Title: "Second"}},
			messages: map[conversation.ID][]conversation.Message{
				"1": {{Role: conversation.RoleUser, Content: "hello", Timestamp: time.Now()}},
				"2": {{Role: conversation.RoleUser, Content: "other", Timestamp: time.Now()}},
			},
		}
		sender = &fakeSender{state: transport.StateOpen}

		var err error
		store, err = chat.NewStore(1, logger)
		Expect(err).NotTo(HaveOccurred())
		dispatcher, err := event.NewDispatcher(store, logger)
		Expect(err).NotTo(HaveOccurred())
		m, err = New(store, dispatcher, api, sender, logger)
		Expect(err).NotTo(HaveOccurred())
	})

	It("selects the first conversation and loads its messages on start", func() {
		drain(m, m.Init())

		current, ok := store.Current()
		Expect(ok).To(BeTrue())
		Expect(current).To(Equal(conversation.ID("1")))
		Expect(api.messageCalls).To(Equal([]conversation.ID{"1"}))
		Expect(store.Messages()).To(HaveLen(1))
		Expect(store.Messages()[0].Content).To(Equal("hello"))
	})

	It("keeps its state when loading conversations fails", func() {
		api.listErr = errors.New("connection refused")
		drain(m, m.Init())

		_, ok := store.Current()
		Expect(ok).To(BeFalse())
		Expect(store.LastError()).To(ContainSubstring("connection refused"))
	})

	It("does not send empty input", func() {
		m.Update(tea.KeyMsg{Type: tea.KeyEnter})
		typeText(m, "   ")
		m.Update(tea.KeyMsg{Type: tea.KeyEnter})

		Expect(sender.sent).To(BeEmpty())
		Expect(store.Messages()).To(BeEmpty())
	})

	It("sends typed input on enter", func() {
		drain(m, m.Init())
		typeText(m, "what is")
		m.Update(tea.KeyMsg{Type: tea.KeySpace})
		typeText(m, "go?")
		m.Update(tea.KeyMsg{Type: tea.KeyEnter})

		Expect(sender.sent).To(HaveLen(1))
		sent := sender.sent[0].(event.SendMessage)
		Expect(sent.Content).To(Equal("what is go?"))
		Expect(*sent.ConversationID).To(Equal(conversation.ID("1")))
		Expect(store.Input()).To(BeEmpty())

		msgs := store.Messages()
		Expect(msgs[len(msgs)-1].Status).To(Equal(conversation.StatusSent))
	})

	It("inserts line breaks instead of sending", func() {
		typeText(m, "line one")
		m.Update(tea.KeyMsg{Type: tea.KeyEnter, Alt: true})
		typeText(m, "line two")
		m.Update(tea.KeyMsg{Type: tea.KeyCtrlJ})
		m.Update(tea.KeyMsg{Type: tea.KeyBackspace})

		Expect(sender.sent).To(BeEmpty())
		Expect(store.Input()).To(Equal("line one\nline two"))
	})

	It("marks the message failed when the link is down", func() {
		sender.state = transport.StateClosed
		typeText(m, "hello")
		m.Update(tea.KeyMsg{Type: tea.KeyEnter})

		msgs := store.Messages()
		Expect(msgs).To(HaveLen(1))
		Expect(msgs[0].Status).To(Equal(conversation.StatusFailed))
		Expect(store.LastError()).To(ContainSubstring(transport.ErrNotReady.Error()))
	})

	It("applies inbound frames through the dispatcher", func() {
		drain(m, m.Init())

		m.Update(FrameMsg{Data: []byte(`{"type":"client_id","clientId":"c-9"}`)})
		m.Update(FrameMsg{Data: []byte(`{"type":"transcription","text":"spoken words"}`)})
		Expect(store.ClientID()).To(Equal("c-9"))
		Expect(store.Input()).To(Equal("spoken words"))

		m.Update(FrameMsg{Data: []byte(`{"type":"input_cleared"}`)})
		Expect(store.Input()).To(BeEmpty())

		m.Update(FrameMsg{Data: []byte(`{"type":"ai_response","content":"**bold** answer","conversationId":"1"}`)})
		msgs := store.Messages()
		Expect(msgs[len(msgs)-1].Role).To(Equal(conversation.RoleAssistant))
	})

	It("ignores malformed frames", func() {
		drain(m, m.Init())
		before := store.Messages()

		m.Update(FrameMsg{Data: []byte(`not json`)})
		Expect(store.Messages()).To(Equal(before))
		Expect(store.LastError()).NotTo(BeEmpty())
	})

	It("refreshes the sidebar when a reply names an unknown conversation", func() {
		_, cmd := m.Update(FrameMsg{Data: []byte(`{"type":"ai_response","content":"hi","conversationId":"2"}`)})
		Expect(cmd).NotTo(BeNil())
		drain(m, cmd)

		Expect(store.Conversations()).To(HaveLen(2))
		current, _ := store.Current()
		Expect(current).To(Equal(conversation.ID("2")))
	})

	It("creates a new chat with ctrl+n", func() {
		drain(m, m.Init())
		_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlN})
		drain(m, cmd)

		Expect(api.created).To(Equal([]string{conversation.DefaultTitle}))
		current, _ := store.Current()
		Expect(current).To(Equal(conversation.ID("new")))
		Expect(store.Messages()).To(BeEmpty())
	})

	It("selects a conversation from the sidebar", func() {
		drain(m, m.Init())
		m.Update(tea.KeyMsg{Type: tea.KeyTab})
		m.Update(tea.KeyMsg{Type: tea.KeyDown})
		m.Update(tea.KeyMsg{Type: tea.KeyDown})
		_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
		drain(m, cmd)

		current, _ := store.Current()
		Expect(current).To(Equal(conversation.ID("2")))
		Expect(store.Messages()[0].Content).To(Equal("other"))
		Expect(m.focus).To(Equal(focusInput))
	})

	It("drops messages that arrive for a conversation no longer selected", func() {
		drain(m, m.Init())
		store.SelectConversation("2")
		m.Update(messagesLoadedMsg{id: "1", msgs: api.messages["1"]})
		Expect(store.Messages()).To(BeEmpty())
	})

	It("clears the input locally and on the server", func() {
		typeText(m, "draft")
		m.Update(tea.KeyMsg{Type: tea.KeyCtrlL})

		Expect(store.Input()).To(BeEmpty())
		Expect(sender.sent).To(ConsistOf(event.ClearInput{}))
	})

	It("copies the last reply", func() {
		var copied string
		m.copy = func(s string) error { copied = s; return nil }

		m.Update(tea.KeyMsg{Type: tea.KeyCtrlY})
		Expect(m.notice).To(Equal("Nothing to copy"))

		store.OnAIResponse(event.AIResponse{Content: "first"})
		store.OnAIResponse(event.AIResponse{Content: "second"})
		m.Update(tea.KeyMsg{Type: tea.KeyCtrlY})
		Expect(copied).To(Equal("second"))
	})

	It("quits on ctrl+c and esc", func() {
		for _, k := range []tea.KeyType{tea.KeyCtrlC, tea.KeyEsc} {
			_, cmd := m.Update(tea.KeyMsg{Type: k})
			Expect(cmd).NotTo(BeNil())
			Expect(cmd()).To(Equal(tea.QuitMsg{}))
		}
	})

	It("renders the thread and status line", func() {
		drain(m, m.Init())
		m.Update(tea.WindowSizeMsg{Width: 120, Height: 30})
		m.Update(FrameMsg{Data: []byte(`{"type":"client_id","clientId":"c-9"}`)})

		view := m.View()
		Expect(view).To(ContainSubstring("New Chat"))
		Expect(view).To(ContainSubstring("First"))
		Expect(view).To(ContainSubstring("hello"))
		Expect(view).To(ContainSubstring("client: c-9"))
		Expect(view).To(ContainSubstring("link: open"))
	})
})

var _ = Describe("RenderContent", func() {
	It("renders code blocks with their language", func() {
		out := RenderContent("intro\n\n```go\nfmt.Println(1)\n```", 60)
		Expect(out).To(ContainSubstring("intro"))
		Expect(out).To(ContainSubstring("go"))
		Expect(out).To(ContainSubstring("fmt.Println(1)"))
	})

	It("renders lists and links as text", func() {
		out := RenderContent("1. one\n2. two\n\n[docs](https://go.dev)", 60)
		Expect(out).To(ContainSubstring("1. one"))
		Expect(out).To(ContainSubstring("2. two"))
		Expect(out).To(ContainSubstring("(https://go.dev)"))
	})
})
