// Package server is the companion backend: REST endpoints for conversations,
// the live socket and the transcription feed.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"PhantomQuery/internal/config"
	"PhantomQuery/internal/conversation"
	"PhantomQuery/internal/event"
	"PhantomQuery/internal/store"
)

type Options struct {
	Store   *store.Store
	Service *Service
	Hub     *Hub
	Logger  *slog.Logger

	// ServiceName names the otelgin spans. Empty disables request tracing.
	ServiceName string
	// SocketPath defaults to config.DefaultSocketPath
	SocketPath string
}

type Server struct {
	store      *store.Store
	svc        *Service
	hub        *Hub
	logger     *slog.Logger
	upgrader   websocket.Upgrader
	service    string
	socketPath string

	// ctx outlives individual sockets so an exchange in flight is still
	// stored when its client goes away
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex // guards closing and wg.Add
	closing bool
}

func New(opts Options) (*Server, error) {
	switch {
	case opts.Store == nil:
		return nil, fmt.Errorf("store cannot be nil")
	case opts.Service == nil:
		return nil, fmt.Errorf("service cannot be nil")
	case opts.Hub == nil:
		return nil, fmt.Errorf("hub cannot be nil")
	case opts.Logger == nil:
		return nil, fmt.Errorf("logger cannot be nil")
	}
	socketPath := opts.SocketPath
	if socketPath == "" {
		socketPath = config.DefaultSocketPath
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		store:  opts.Store,
		svc:    opts.Service,
		hub:    opts.Hub,
		logger: opts.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		service:    opts.ServiceName,
		socketPath: socketPath,
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

// Router builds the gin engine. Order matters: the otel span opens first so
// recovery and the request log carry its trace context.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	if s.service != "" {
		router.Use(otelgin.Middleware(s.service))
	}
	router.Use(recovery(s.logger))
	router.Use(requestLogger(s.logger))

	router.GET("/healthz", s.health)
	router.GET(s.socketPath, s.handleSocket)

	api := router.Group("/api")
	{
		conversations := api.Group("/conversations")
		conversations.GET("", s.listConversations)
		conversations.POST("", s.createConversation)
		conversations.GET("/:id", s.getConversation)
		conversations.DELETE("/:id", s.deleteConversation)
		conversations.GET("/:id/messages", s.listMessages)

		api.POST("/transcriptions", s.postTranscription)
	}
	return router
}

// Close refuses new exchanges, disconnects every socket, then cancels the
// exchanges in flight and waits for them. Hijacked sockets outlive
// http.Server.Shutdown, so this must run after it.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()

	err := s.hub.Close()
	s.cancel()
	s.wg.Wait()
	return err
}

// goExchange runs fn in the background unless the server is closing
func (s *Server) goExchange(fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
	return true
}

func (s *Server) health(c *gin.Context) {
	if err := s.store.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "clients": s.hub.Count()})
}

type createConversationRequest struct {
	Title string `json:"title"`
}

type transcriptionRequest struct {
	Text string `json:"text" binding:"required"`
}

func (s *Server) listConversations(c *gin.Context) {
	list, err := s.store.ListConversations(c.Request.Context())
	if err != nil {
		c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list conversations"})
		return
	}
	c.JSON(http.StatusOK, list)
}

// createConversation takes the title from a JSON body or the title query
// parameter
func (s *Server) createConversation(c *gin.Context) {
	title := c.Query("title")
	if c.Request.ContentLength != 0 {
		var req createConversationRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			s.logger.WarnContext(c.Request.Context(), "invalid request body", "error", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if strings.TrimSpace(req.Title) != "" {
			title = req.Title
		}
	}

	conv, err := s.store.CreateConversation(c.Request.Context(), title)
	if err != nil {
		c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create conversation"})
		return
	}
	c.JSON(http.StatusCreated, conv)
}

func (s *Server) getConversation(c *gin.Context) {
	conv, err := s.store.GetConversation(c.Request.Context(), conversation.ID(c.Param("id")))
	if err != nil {
		s.storeError(c, err, "failed to get conversation")
		return
	}
	c.JSON(http.StatusOK, conv)
}

func (s *Server) deleteConversation(c *gin.Context) {
	if err := s.store.DeleteConversation(c.Request.Context(), conversation.ID(c.Param("id"))); err != nil {
		s.storeError(c, err, "failed to delete conversation")
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) listMessages(c *gin.Context) {
	msgs, err := s.store.ListMessages(c.Request.Context(), conversation.ID(c.Param("id")))
	if err != nil {
		c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list messages"})
		return
	}
	c.JSON(http.StatusOK, msgs)
}

func (s *Server) postTranscription(c *gin.Context) {
	var req transcriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.Transcribe(req.Text); err != nil {
		c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to broadcast transcription"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"clients": s.hub.Count()})
}

// Transcribe pushes recognized speech to every connected client
func (s *Server) Transcribe(text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	s.logger.Info("broadcasting transcription", "length", len(text))
	return s.hub.Broadcast(event.Transcription{Text: text})
}

func (s *Server) storeError(c *gin.Context, err error, msg string) {
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		return
	}
	c.Error(err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
}
