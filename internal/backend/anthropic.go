package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"PhantomQuery/internal/config"
	"PhantomQuery/internal/conversation"
)

const (
	anthropicURL     = "https://api.anthropic.com"
	anthropicVersion = "2023-06-01"
	anthropicModel   = "claude-sonnet-4-20250514"
)

// AnthropicRequest represents the request body for Anthropic API
type AnthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []AnthropicMessage `json:"messages"`
}

// AnthropicMessage represents a message in the conversation
type AnthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// AnthropicContent is one block of a response
type AnthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// AnthropicResponse represents the response from Anthropic API
type AnthropicResponse struct {
	ID           string             `json:"id"`
	Type         string             `json:"type"`
	Role         string             `json:"role"`
	Content      []AnthropicContent `json:"content"`
	Model        string             `json:"model"`
	StopReason   string             `json:"stop_reason"`
	StopSequence string             `json:"stop_sequence"`
	Usage        map[string]any     `json:"usage"`
}

// Anthropic calls the Messages API
type Anthropic struct {
	apiKey  string
	baseURL string
	in      *instruments
}

// NewAnthropic creates the client; baseURL may be empty for the public API
func NewAnthropic(apiKey, baseURL string, in Instruments) (*Anthropic, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY not set")
	}
	if baseURL == "" {
		baseURL = anthropicURL
	}
	inst, err := newInstruments(in)
	if err != nil {
		return nil, err
	}
	return &Anthropic{apiKey: apiKey, baseURL: strings.TrimSuffix(baseURL, "/"), in: inst}, nil
}

func (a *Anthropic) Name() string { return config.BackendAnthropic }

func (a *Anthropic) Complete(ctx context.Context, messages []conversation.Message) (reply string, err error) {
	ctx, end := a.in.start(ctx, a.Name())
	defer end(&err)

	// System prompts travel outside the messages array
	reqBody := AnthropicRequest{Model: anthropicModel, MaxTokens: 1024}
	var system []string
	for _, msg := range messages {
		if msg.Role == conversation.RoleSystem {
			system = append(system, msg.Content)
			continue
		}
		reqBody.Messages = append(reqBody.Messages, AnthropicMessage{Role: msg.Role, Content: msg.Content})
	}
	reqBody.System = strings.Join(system, "\n\n")

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/messages", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("x-api-key", a.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)
	req.Header.Set("content-type", "application/json")

	resp, err := a.in.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("API error: %s - %s", resp.Status, string(body))
	}

	var apiResp AnthropicResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}

	usage := make(map[string]int64, len(apiResp.Usage))
	for key, value := range apiResp.Usage {
		if n, ok := value.(float64); ok {
			usage[key] = int64(n)
		}
	}
	a.in.recordUsage(ctx, a.Name(), usage)

	var text strings.Builder
	for _, content := range apiResp.Content {
		if content.Type == "text" {
			text.WriteString(content.Text)
		}
	}
	if text.Len() == 0 {
		return "", fmt.Errorf("empty response from Anthropic")
	}
	return text.String(), nil
}
