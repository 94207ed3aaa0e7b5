package backend

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"PhantomQuery/internal/conversation"
)

// OpenAIOptions configures an OpenAI-compatible backend (OpenAI itself or Grok)
type OpenAIOptions struct {
	Name    string
	APIKey  string
	BaseURL string
	Model   string
}

// OpenAI calls an OpenAI-compatible chat completions API
type OpenAI struct {
	client openai.Client
	name   string
	model  string
	in     *instruments
}

func NewOpenAI(opts OpenAIOptions, in Instruments) (*OpenAI, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("API key for %s not set", opts.Name)
	}
	if opts.Model == "" {
		return nil, fmt.Errorf("model for %s cannot be empty", opts.Name)
	}
	inst, err := newInstruments(in)
	if err != nil {
		return nil, err
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		option.WithHTTPClient(inst.httpClient),
		option.WithMaxRetries(0),
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}

	return &OpenAI{
		client: openai.NewClient(reqOpts...),
		name:   opts.Name,
		model:  opts.Model,
		in:     inst,
	}, nil
}

func (o *OpenAI) Name() string { return o.name }

func (o *OpenAI) Complete(ctx context.Context, messages []conversation.Message) (reply string, err error) {
	ctx, end := o.in.start(ctx, o.name)
	defer end(&err)

	params := openai.ChatCompletionNewParams{
		Model:    o.model,
		Messages: convertMessages(messages),
	}

	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("failed to call %s: %w", o.name, err)
	}

	o.in.recordUsage(ctx, o.name, map[string]int64{
		"prompt_tokens":     resp.Usage.PromptTokens,
		"completion_tokens": resp.Usage.CompletionTokens,
		"total_tokens":      resp.Usage.TotalTokens,
	})

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty response from %s", o.name)
	}
	return resp.Choices[0].Message.Content, nil
}

func convertMessages(msgs []conversation.Message) []openai.ChatCompletionMessageParamUnion {
	result := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, msg := range msgs {
		switch msg.Role {
		case conversation.RoleSystem:
			result = append(result, openai.SystemMessage(msg.Content))
		case conversation.RoleAssistant:
			result = append(result, openai.AssistantMessage(msg.Content))
		default:
			result = append(result, openai.UserMessage(msg.Content))
		}
	}
	return result
}
