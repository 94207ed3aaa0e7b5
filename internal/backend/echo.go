package backend

import (
	"context"
	"fmt"

	"PhantomQuery/internal/config"
	"PhantomQuery/internal/conversation"
)

// Echo replies with the last user message. It needs no network.
type Echo struct{}

func (Echo) Name() string { return config.BackendEcho }

func (Echo) Complete(_ context.Context, messages []conversation.Message) (string, error) {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == conversation.RoleUser {
			return "Echo: " + messages[i].Content, nil
		}
	}
	return "", fmt.Errorf("no user message to echo")
}
