package transport_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"PhantomQuery/internal/conversation"
	"PhantomQuery/internal/event"
	"PhantomQuery/internal/transport"
)

// peer is the server side of one test socket
type peer struct {
	srv      *httptest.Server
	received chan string
	conns    chan *websocket.Conn
}

func newPeer() *peer {
	p := &peer{received: make(chan string, 16), conns: make(chan *websocket.Conn, 1)}
	upgrader := websocket.Upgrader{}
	p.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		p.conns <- ws
		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			p.received <- string(data)
		}
	}))
	return p
}

func (p *peer) url() string {
	return "ws" + strings.TrimPrefix(p.srv.URL, "http") + "/simple-websocket"
}

var _ = Describe("Conn", func() {
	var (
		p      *peer
		logger *slog.Logger
		mu     sync.Mutex
		frames []string
		closed chan error
		conn   *transport.Conn
	)

	onFrame := func(data []byte) {
		mu.Lock()
		defer mu.Unlock()
		frames = append(frames, string(data))
	}
	received := func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), frames...)
	}

	BeforeEach(func() {
		p = newPeer()
		DeferCleanup(p.srv.Close)
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
		frames = nil
		closed = make(chan error, 1)

		var err error
		conn, err = transport.NewConn(p.url(), onFrame, func(err error) { closed <- err }, logger)
		Expect(err).NotTo(HaveOccurred())
	})

	It("validates its arguments", func() {
		_, err := transport.NewConn(p.url(), onFrame, nil, nil)
		Expect(err).To(HaveOccurred())
		_, err = transport.NewConn(p.url(), nil, nil, logger)
		Expect(err).To(HaveOccurred())
	})

	It("refuses to send before it is started", func() {
		Expect(conn.State()).To(Equal(transport.StateIdle))
		err := conn.Send(event.ClearInput{})
		Expect(err).To(MatchError(transport.ErrNotReady))
	})

	It("announces itself on start", func() {
		Expect(conn.Start(context.Background())).To(Succeed())
		defer conn.Stop()

		Expect(conn.State()).To(Equal(transport.StateOpen))
		var hello string
		Eventually(p.received).Should(Receive(&hello))
		Expect(hello).To(MatchJSON(`{"type":"connection","message":"` + transport.ConnectMessage + `"}`))
	})

	It("sends tagged frames", func() {
		Expect(conn.Start(context.Background())).To(Succeed())
		defer conn.Stop()
		Eventually(p.received).Should(Receive())

		id := conversation.ID("7")
		Expect(conn.Send(event.SendMessage{Content: "hi", ConversationID: &id})).To(Succeed())

		var frame string
		Eventually(p.received).Should(Receive(&frame))
		Expect(frame).To(MatchJSON(`{"type":"send_message","content":"hi","conversationId":"7"}`))
	})

	It("delivers inbound frames to the callback", func() {
		Expect(conn.Start(context.Background())).To(Succeed())
		defer conn.Stop()

		var ws *websocket.Conn
		Eventually(p.conns).Should(Receive(&ws))
		Expect(ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"client_id","clientId":"abc"}`))).To(Succeed())
		Expect(ws.WriteMessage(websocket.BinaryMessage, []byte{0x01})).To(Succeed())
		Expect(ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"input_cleared"}`))).To(Succeed())

		Eventually(received).Should(Equal([]string{
			`{"type":"client_id","clientId":"abc"}`,
			`{"type":"input_cleared"}`,
		}))
	})

	It("closes once when the server drops the link", func() {
		Expect(conn.Start(context.Background())).To(Succeed())

		var ws *websocket.Conn
		Eventually(p.conns).Should(Receive(&ws))
		ws.Close()

		Eventually(closed).Should(Receive())
		Expect(conn.State()).To(Equal(transport.StateClosed))
		Expect(conn.Send(event.ClearInput{})).To(MatchError(transport.ErrNotReady))
		Expect(conn.Stop()).To(Succeed())
		Consistently(closed).ShouldNot(Receive())
	})

	It("stops cleanly without calling the close callback", func() {
		Expect(conn.Start(context.Background())).To(Succeed())
		Expect(conn.Stop()).To(Succeed())
		Expect(conn.State()).To(Equal(transport.StateClosed))
		Expect(conn.Stop()).To(Succeed())
		Consistently(closed).ShouldNot(Receive())
	})

	It("cannot be restarted", func() {
		Expect(conn.Start(context.Background())).To(Succeed())
		Expect(conn.Stop()).To(Succeed())
		Expect(conn.Start(context.Background())).NotTo(Succeed())
	})

	It("reports a failed dial", func() {
		bad, err := transport.NewConn("ws://127.0.0.1:1/simple-websocket", onFrame, nil, logger)
		Expect(err).NotTo(HaveOccurred())
		Expect(bad.Start(context.Background())).NotTo(Succeed())
		Expect(bad.State()).To(Equal(transport.StateClosed))
	})
})
