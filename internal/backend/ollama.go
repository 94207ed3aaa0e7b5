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

// OllamaRequest represents the request body for Ollama API
type OllamaRequest struct {
	Model    string          `json:"model"`
	Messages []OllamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
}

type OllamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// OllamaResponse represents the response from Ollama API
type OllamaResponse struct {
	Model           string        `json:"model"`
	CreatedAt       string        `json:"created_at"`
	Message         OllamaMessage `json:"message"`
	Done            bool          `json:"done"`
	PromptEvalCount int64         `json:"prompt_eval_count"`
	EvalCount       int64         `json:"eval_count"`
}

// OllamaTagsResponse represents the response from Ollama /api/tags endpoint
type OllamaTagsResponse struct {
	Models []OllamaModel `json:"models"`
}

// OllamaModel represents a single model in the Ollama tags response
type OllamaModel struct {
	Name       string `json:"name"`
	ModifiedAt string `json:"modified_at"`
	Size       int64  `json:"size"`
	Digest     string `json:"digest"`
}

// Ollama talks to a local Ollama server
type Ollama struct {
	baseURL string
	model   string
	in      *instruments
}

func NewOllama(baseURL, model string, in Instruments) (*Ollama, error) {
	if model == "" {
		return nil, fmt.Errorf("ollama model cannot be empty")
	}
	inst, err := newInstruments(in)
	if err != nil {
		return nil, err
	}
	return &Ollama{baseURL: strings.TrimSuffix(baseURL, "/"), model: model, in: inst}, nil
}

func (o *Ollama) Name() string { return config.BackendOllama }

func (o *Ollama) Complete(ctx context.Context, messages []conversation.Message) (reply string, err error) {
	ctx, end := o.in.start(ctx, o.Name())
	defer end(&err)

	reqBody := OllamaRequest{
		Model:    o.model,
		Messages: make([]OllamaMessage, len(messages)),
		Stream:   false,
	}
	for i, msg := range messages {
		reqBody.Messages[i] = OllamaMessage{Role: msg.Role, Content: msg.Content}
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/chat", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("content-type", "application/json")

	var apiResp OllamaResponse
	if err := o.do(req, &apiResp); err != nil {
		return "", err
	}

	o.in.recordUsage(ctx, o.Name(), map[string]int64{
		"prompt_tokens":     apiResp.PromptEvalCount,
		"completion_tokens": apiResp.EvalCount,
	})

	if apiResp.Message.Content == "" {
		return "", fmt.Errorf("empty response from Ollama")
	}
	return apiResp.Message.Content, nil
}

// ListModels fetches the list of available Ollama models
func (o *Ollama) ListModels(ctx context.Context) ([]OllamaModel, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	var tagsResp OllamaTagsResponse
	if err := o.do(req, &tagsResp); err != nil {
		return nil, err
	}
	return tagsResp.Models, nil
}

func (o *Ollama) do(req *http.Request, out any) error {
	resp, err := o.in.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request (is Ollama running?): %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API error: %s - %s", resp.Status, string(body))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}
