package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"PhantomQuery/internal/backend"
	"PhantomQuery/internal/conversation"
	"PhantomQuery/internal/event"
	"PhantomQuery/internal/server"
	"PhantomQuery/internal/store"
)

func newServer() (*server.Server, *store.Store, *server.Hub) {
	st, err := store.Open(":memory:", discardLogger())
	Expect(err).NotTo(HaveOccurred())
	DeferCleanup(st.Close)

	svc, err := server.NewService(st, backend.Echo{}, nil, "", discardLogger())
	Expect(err).NotTo(HaveOccurred())
	hub, err := server.NewHub(discardLogger())
	Expect(err).NotTo(HaveOccurred())

	srv, err := server.New(server.Options{Store: st, Service: svc, Hub: hub, Logger: discardLogger()})
	Expect(err).NotTo(HaveOccurred())
	DeferCleanup(srv.Close)
	return srv, st, hub
}

func doJSON(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

var _ = Describe("REST endpoints", func() {
	var (
		router *gin.Engine
		st     *store.Store
		ctx    context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		var srv *server.Server
		srv, st, _ = newServer()
		router = srv.Router()
	})

	It("requires its dependencies", func() {
		_, err := server.New(server.Options{Logger: discardLogger()})
		Expect(err).To(HaveOccurred())
	})

	It("reports health", func() {
		w := doJSON(router, http.MethodGet, "/healthz", "")
		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(w.Body.String()).To(ContainSubstring(`"status":"ok"`))
	})

	It("creates a conversation from the JSON body", func() {
		w := doJSON(router, http.MethodPost, "/api/conversations", `{"title":"Goroutines"}`)
		Expect(w.Code).To(Equal(http.StatusCreated))

		var conv conversation.Conversation
		Expect(json.Unmarshal(w.Body.Bytes(), &conv)).To(Succeed())
		Expect(conv.ID).NotTo(BeEmpty())
		Expect(conv.Title).To(Equal("Goroutines"))
	})

	It("creates a conversation from the title parameter", func() {
		w := doJSON(router, http.MethodPost, "/api/conversations?title=Channels", "")
		Expect(w.Code).To(Equal(http.StatusCreated))
		Expect(w.Body.String()).To(ContainSubstring(`"title":"Channels"`))
	})

	It("defaults the title", func() {
		w := doJSON(router, http.MethodPost, "/api/conversations", `{}`)
		Expect(w.Code).To(Equal(http.StatusCreated))
		Expect(w.Body.String()).To(ContainSubstring(`"title":"New Chat"`))
	})

	It("returns 400 on an invalid body", func() {
		w := doJSON(router, http.MethodPost, "/api/conversations", `{`)
		Expect(w.Code).To(Equal(http.StatusBadRequest))
	})

	It("lists conversations oldest first", func() {
		_, err := st.CreateConversation(ctx, "one")
		Expect(err).NotTo(HaveOccurred())
		_, err = st.CreateConversation(ctx, "two")
		Expect(err).NotTo(HaveOccurred())

		w := doJSON(router, http.MethodGet, "/api/conversations", "")
		Expect(w.Code).To(Equal(http.StatusOK))

		var list []conversation.Conversation
		Expect(json.Unmarshal(w.Body.Bytes(), &list)).To(Succeed())
		Expect(list).To(HaveLen(2))
		Expect(list[0].Title).To(Equal("one"))
		Expect(list[1].Title).To(Equal("two"))
	})

	It("returns an empty list rather than null", func() {
		w := doJSON(router, http.MethodGet, "/api/conversations", "")
		Expect(w.Body.String()).To(Equal("[]"))
	})

	It("gets and deletes a conversation", func() {
		conv, err := st.CreateConversation(ctx, "doomed")
		Expect(err).NotTo(HaveOccurred())
		_, err = st.AddMessage(ctx, conv.ID, conversation.Message{Role: conversation.RoleUser, Content: "hi"})
		Expect(err).NotTo(HaveOccurred())

		w := doJSON(router, http.MethodGet, "/api/conversations/"+string(conv.ID), "")
		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(w.Body.String()).To(ContainSubstring(`"title":"doomed"`))

		w = doJSON(router, http.MethodDelete, "/api/conversations/"+string(conv.ID), "")
		Expect(w.Code).To(Equal(http.StatusNoContent))

		w = doJSON(router, http.MethodGet, "/api/conversations/"+string(conv.ID), "")
		Expect(w.Code).To(Equal(http.StatusNotFound))
		w = doJSON(router, http.MethodDelete, "/api/conversations/"+string(conv.ID), "")
		Expect(w.Code).To(Equal(http.StatusNotFound))
	})

	It("lists a conversation's messages", func() {
		conv, err := st.CreateConversation(ctx, "chat")
		Expect(err).NotTo(HaveOccurred())
		_, err = st.AddMessage(ctx, conv.ID, conversation.Message{Role: conversation.RoleUser, Content: "hi"})
		Expect(err).NotTo(HaveOccurred())
		_, err = st.AddMessage(ctx, conv.ID, conversation.Message{Role: conversation.RoleAssistant, Content: "hello"})
		Expect(err).NotTo(HaveOccurred())

		w := doJSON(router, http.MethodGet, "/api/conversations/"+string(conv.ID)+"/messages", "")
		Expect(w.Code).To(Equal(http.StatusOK))

		var msgs []conversation.Message
		Expect(json.Unmarshal(w.Body.Bytes(), &msgs)).To(Succeed())
		Expect(msgs).To(HaveLen(2))
		Expect(msgs[0].Content).To(Equal("hi"))
		Expect(msgs[1].Role).To(Equal(conversation.RoleAssistant))
	})

	It("returns no messages for an unknown conversation", func() {
		w := doJSON(router, http.MethodGet, "/api/conversations/nope/messages", "")
		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(w.Body.String()).To(Equal("[]"))
	})

	It("requires text for a transcription", func() {
		w := doJSON(router, http.MethodPost, "/api/transcriptions", `{"text":""}`)
		Expect(w.Code).To(Equal(http.StatusBadRequest))
	})
})

var _ = Describe("Socket", func() {
	var (
		httpSrv *httptest.Server
		srv     *server.Server
		hub     *server.Hub
		st      *store.Store
	)

	dial := func() *websocket.Conn {
		url := "ws" + strings.TrimPrefix(httpSrv.URL, "http") + "/simple-websocket"
		ws, _, err := websocket.DefaultDialer.Dial(url, nil)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(ws.Close)
		return ws
	}

	read := func(ws *websocket.Conn) event.Event {
		ws.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, data, err := ws.ReadMessage()
		Expect(err).NotTo(HaveOccurred())
		ev, err := event.Decode(data)
		Expect(err).NotTo(HaveOccurred())
		return ev
	}

	write := func(ws *websocket.Conn, v event.Tagged) {
		data, err := event.Encode(v)
		Expect(err).NotTo(HaveOccurred())
		Expect(ws.WriteMessage(websocket.TextMessage, data)).To(Succeed())
	}

	BeforeEach(func() {
		srv, st, hub = newServer()
		httpSrv = httptest.NewServer(srv.Router())
		DeferCleanup(httpSrv.Close)
	})

	It("assigns a client id on connect", func() {
		ws := dial()
		ev := read(ws)
		Expect(ev).To(BeAssignableToTypeOf(event.ClientID{}))
		Expect(ev.(event.ClientID).ClientID).NotTo(BeEmpty())
		Expect(hub.Count()).To(Equal(1))
	})

	It("answers a message in a new conversation", func() {
		ws := dial()
		read(ws)

		write(ws, event.Connection{Message: "Terminal client connected"})
		write(ws, event.SendMessage{Content: "hello there"})

		ev := read(ws)
		Expect(ev).To(BeAssignableToTypeOf(event.AIResponse{}))
		resp := ev.(event.AIResponse)
		Expect(resp.Content).To(Equal("Echo: hello there"))
		Expect(resp.ConversationID).NotTo(BeEmpty())

		msgs, err := st.ListMessages(context.Background(), resp.ConversationID)
		Expect(err).NotTo(HaveOccurred())
		Expect(msgs).To(HaveLen(2))
	})

	It("reports failures as error events", func() {
		ws := dial()
		read(ws)

		missing := conversation.ID("missing")
		write(ws, event.SendMessage{Content: "hello", ConversationID: &missing})
		ev := read(ws)
		Expect(ev).To(BeAssignableToTypeOf(event.ServerError{}))
		Expect(ev.(event.ServerError).Message).To(ContainSubstring("not found"))

		Expect(ws.WriteMessage(websocket.TextMessage, []byte(`{"type":`))).To(Succeed())
		Expect(read(ws)).To(BeAssignableToTypeOf(event.ServerError{}))
	})

	It("acknowledges clear_input and ignores unknown commands", func() {
		ws := dial()
		read(ws)

		Expect(ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"start_recording"}`))).To(Succeed())
		write(ws, event.ClearInput{})
		Expect(read(ws)).To(Equal(event.InputCleared{}))
	})

	It("broadcasts transcriptions to every client", func() {
		first, second := dial(), dial()
		read(first)
		read(second)
		Eventually(hub.Count).Should(Equal(2))

		resp, err := http.Post(httpSrv.URL+"/api/transcriptions", "application/json",
			strings.NewReader(`{"text":"spoken words"}`))
		Expect(err).NotTo(HaveOccurred())
		resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusAccepted))

		for _, ws := range []*websocket.Conn{first, second} {
			Expect(read(ws)).To(Equal(event.Transcription{Text: "spoken words"}))
		}
	})

	It("disconnects sockets on close and refuses new ones", func() {
		ws := dial()
		read(ws)

		Expect(srv.Close()).To(Succeed())
		Expect(hub.Count()).To(BeZero())

		ws.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, _, err := ws.ReadMessage()
		Expect(websocket.IsCloseError(err, websocket.CloseNormalClosure)).To(BeTrue())

		late := dial()
		late.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, _, err = late.ReadMessage()
		Expect(err).To(HaveOccurred())
		Expect(hub.Count()).To(BeZero())
	})

	It("forgets clients that disconnect", func() {
		ws := dial()
		read(ws)
		Expect(ws.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))).To(Succeed())
		Eventually(hub.Count).Should(BeZero())
	})
})
