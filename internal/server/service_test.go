package server_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"PhantomQuery/internal/cache"
	"PhantomQuery/internal/conversation"
	"PhantomQuery/internal/server"
	"PhantomQuery/internal/store"
)

// countingCompleter answers with a fixed reply and remembers what it saw
type countingCompleter struct {
	mu      sync.Mutex
	reply   string
	err     error
	calls   int
	history []conversation.Message
}

func (c *countingCompleter) Name() string { return "counting" }

func (c *countingCompleter) Complete(_ context.Context, msgs []conversation.Message) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.history = append([]conversation.Message(nil), msgs...)
	return c.reply, c.err
}

func (c *countingCompleter) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var _ = Describe("Service", func() {
	var (
		ctx       context.Context
		st        *store.Store
		completer *countingCompleter
		svc       *server.Service
	)

	BeforeEach(func() {
		ctx = context.Background()
		var err error
		st, err = store.Open(":memory:", discardLogger())
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(st.Close)

		completer = &countingCompleter{reply: "a lightweight thread"}
		svc, err = server.NewService(st, completer, cache.NewMemory(0), "Be brief.", discardLogger())
		Expect(err).NotTo(HaveOccurred())
	})

	It("rejects missing dependencies", func() {
		_, err := server.NewService(nil, completer, nil, "", discardLogger())
		Expect(err).To(HaveOccurred())
		_, err = server.NewService(st, nil, nil, "", discardLogger())
		Expect(err).To(HaveOccurred())
		_, err = server.NewService(st, completer, nil, "", nil)
		Expect(err).To(HaveOccurred())
	})

	It("starts a new conversation when none is given", func() {
		id, reply, err := svc.Reply(ctx, nil, "what is a goroutine?")
		Expect(err).NotTo(HaveOccurred())
		Expect(reply).To(Equal("a lightweight thread"))
		Expect(id).NotTo(BeEmpty())

		conv, err := st.GetConversation(ctx, id)
		Expect(err).NotTo(HaveOccurred())
		Expect(conv.Title).To(Equal(conversation.DefaultTitle))

		msgs, err := st.ListMessages(ctx, id)
		Expect(err).NotTo(HaveOccurred())
		Expect(msgs).To(HaveLen(2))
		Expect(msgs[0].Role).To(Equal(conversation.RoleUser))
		Expect(msgs[1].Role).To(Equal(conversation.RoleAssistant))
		Expect(msgs[1].Content).To(Equal("a lightweight thread"))
	})

	It("sends the system prompt and full history", func() {
		conv, err := st.CreateConversation(ctx, "Go")
		Expect(err).NotTo(HaveOccurred())

		_, _, err = svc.Reply(ctx, &conv.ID, "first")
		Expect(err).NotTo(HaveOccurred())
		_, _, err = svc.Reply(ctx, &conv.ID, "second")
		Expect(err).NotTo(HaveOccurred())

		Expect(completer.history).To(HaveLen(4))
		Expect(completer.history[0].Role).To(Equal(conversation.RoleSystem))
		Expect(completer.history[0].Content).To(Equal("Be brief."))
		Expect(completer.history[3].Content).To(Equal("second"))
	})

	It("answers a repeated history from the cache", func() {
		a, err := st.CreateConversation(ctx, "A")
		Expect(err).NotTo(HaveOccurred())
		b, err := st.CreateConversation(ctx, "B")
		Expect(err).NotTo(HaveOccurred())

		_, first, err := svc.Reply(ctx, &a.ID, "same question")
		Expect(err).NotTo(HaveOccurred())
		_, second, err := svc.Reply(ctx, &b.ID, "same question")
		Expect(err).NotTo(HaveOccurred())

		Expect(second).To(Equal(first))
		Expect(completer.Calls()).To(Equal(1))
	})

	It("fails for an unknown conversation", func() {
		missing := conversation.ID("missing")
		_, _, err := svc.Reply(ctx, &missing, "hello")
		Expect(err).To(MatchError(store.ErrNotFound))
		Expect(completer.Calls()).To(BeZero())
	})

	It("rejects empty content", func() {
		_, _, err := svc.Reply(ctx, nil, "  ")
		Expect(err).To(HaveOccurred())
	})

	It("keeps the user message when the backend fails", func() {
		completer.err = errors.New("backend down")
		id, _, err := svc.Reply(ctx, nil, "hello")
		Expect(err).To(MatchError(ContainSubstring("backend down")))
		Expect(id).To(BeEmpty())

		list, err := st.ListConversations(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(list).To(HaveLen(1))
		msgs, err := st.ListMessages(ctx, list[0].ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(msgs).To(HaveLen(1))
	})
})
