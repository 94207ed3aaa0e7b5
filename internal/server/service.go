package server

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"PhantomQuery/internal/backend"
	"PhantomQuery/internal/cache"
	"PhantomQuery/internal/conversation"
	"PhantomQuery/internal/store"
)

// Service turns a user message into a stored exchange with the completion backend
type Service struct {
	store        *store.Store
	completer    backend.Completer
	cache        cache.Cache
	systemPrompt string
	logger       *slog.Logger
}

// NewService wires a chat service. A nil cache disables response caching.
func NewService(st *store.Store, completer backend.Completer, c cache.Cache, systemPrompt string, logger *slog.Logger) (*Service, error) {
	switch {
	case st == nil:
		return nil, fmt.Errorf("store cannot be nil")
	case completer == nil:
		return nil, fmt.Errorf("completer cannot be nil")
	case logger == nil:
		return nil, fmt.Errorf("logger cannot be nil")
	}
	return &Service{
		store:        st,
		completer:    completer,
		cache:        c,
		systemPrompt: systemPrompt,
		logger:       logger,
	}, nil
}

// Reply stores content as a user message, produces the assistant reply for
// the whole conversation and stores that too. A nil or empty id starts a new
// conversation; the id actually used is returned.
func (s *Service) Reply(ctx context.Context, id *conversation.ID, content string) (conversation.ID, string, error) {
	if strings.TrimSpace(content) == "" {
		return "", "", fmt.Errorf("message content cannot be empty")
	}

	convID, err := s.resolve(ctx, id)
	if err != nil {
		return "", "", err
	}

	if _, err := s.store.AddMessage(ctx, convID, conversation.Message{
		Role:    conversation.RoleUser,
		Content: content,
	}); err != nil {
		return "", "", fmt.Errorf("failed to save user message: %w", err)
	}

	history, err := s.history(ctx, convID)
	if err != nil {
		return "", "", err
	}

	reply, err := s.complete(ctx, history)
	if err != nil {
		return "", "", err
	}

	if _, err := s.store.AddMessage(ctx, convID, conversation.Message{
		Role:    conversation.RoleAssistant,
		Content: reply,
	}); err != nil {
		return "", "", fmt.Errorf("failed to save assistant message: %w", err)
	}

	return convID, reply, nil
}

func (s *Service) resolve(ctx context.Context, id *conversation.ID) (conversation.ID, error) {
	if id != nil && *id != "" {
		return *id, nil
	}
	c, err := s.store.CreateConversation(ctx, conversation.DefaultTitle)
	if err != nil {
		return "", err
	}
	return c.ID, nil
}

func (s *Service) history(ctx context.Context, id conversation.ID) ([]conversation.Message, error) {
	msgs, err := s.store.ListMessages(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	if s.systemPrompt == "" {
		return msgs, nil
	}
	history := make([]conversation.Message, 0, len(msgs)+1)
	history = append(history, conversation.Message{Role: conversation.RoleSystem, Content: s.systemPrompt})
	return append(history, msgs...), nil
}

// complete answers from the cache when it can. Cache failures are logged
// and never fail the request.
func (s *Service) complete(ctx context.Context, history []conversation.Message) (string, error) {
	key := cache.GenerateCacheKey(history)

	if s.cache != nil {
		cached, ok, err := s.cache.Get(ctx, key)
		switch {
		case err != nil:
			s.logger.Warn("cache lookup failed", "error", err)
		case ok:
			s.logger.Info("cache hit", "key", key[:16])
			return cached, nil
		}
	}

	start := time.Now()
	reply, err := s.completer.Complete(ctx, history)
	if err != nil {
		return "", fmt.Errorf("%s completion failed: %w", s.completer.Name(), err)
	}
	s.logger.Info("completion finished",
		"backend", s.completer.Name(),
		"messages", len(history),
		"duration_ms", time.Since(start).Milliseconds())

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, reply); err != nil {
			s.logger.Warn("failed to cache response", "error", err)
		} else {
			s.logger.Info("cached response", "key", key[:16])
		}
	}
	return reply, nil
}
