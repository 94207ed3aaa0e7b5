// Package backend produces assistant replies from a conversation history.
package backend

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"PhantomQuery/internal/config"
	"PhantomQuery/internal/conversation"
)

// Completer turns a conversation history into the next assistant message
type Completer interface {
	Complete(ctx context.Context, messages []conversation.Message) (string, error)
	Name() string
}

// Instruments are shared by every backend. Nil fields fall back to the
// global otel providers, the default logger and a 60s http client.
type Instruments struct {
	Tracer     trace.Tracer
	Meter      metric.Meter
	Logger     *slog.Logger
	HTTPClient *http.Client
}

type instruments struct {
	tracer     trace.Tracer
	meter      metric.Meter
	logger     *slog.Logger
	httpClient *http.Client
	duration   metric.Float64Histogram
}

func newInstruments(in Instruments) (*instruments, error) {
	out := &instruments{
		tracer:     in.Tracer,
		meter:      in.Meter,
		logger:     in.Logger,
		httpClient: in.HTTPClient,
	}
	if out.tracer == nil {
		out.tracer = otel.Tracer("phantomquery/backend")
	}
	if out.meter == nil {
		out.meter = otel.Meter("phantomquery/backend")
	}
	if out.logger == nil {
		out.logger = slog.Default()
	}
	if out.httpClient == nil {
		out.httpClient = &http.Client{Timeout: 60 * time.Second}
	}

	histogram, err := out.meter.Float64Histogram(
		"llm.request.duration",
		metric.WithDescription("LLM request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create duration histogram: %w", err)
	}
	out.duration = histogram
	return out, nil
}

// start opens a span for one backend call. The returned func ends it,
// recording the duration and the error if any.
func (in *instruments) start(ctx context.Context, backend string) (context.Context, func(err *error)) {
	ctx, span := in.tracer.Start(ctx, backend+"_api_call", trace.WithAttributes(attribute.String("llm.backend", backend)))
	began := time.Now()
	return ctx, func(err *error) {
		in.duration.Record(ctx, float64(time.Since(began).Milliseconds()),
			metric.WithAttributes(attribute.String("llm.backend", backend)))
		if err != nil && *err != nil {
			span.RecordError(*err)
			span.SetStatus(codes.Error, (*err).Error())
		}
		span.End()
	}
}

// recordUsage records token usage counters (llm.usage.<key>)
func (in *instruments) recordUsage(ctx context.Context, backend string, usage map[string]int64) {
	for key, value := range usage {
		counter, err := in.meter.Int64Counter(
			fmt.Sprintf("llm.usage.%s", key),
			metric.WithDescription(fmt.Sprintf("LLM usage metric: %s", key)),
		)
		if err != nil {
			in.logger.Warn("failed to create counter", "key", key, "error", err)
			continue
		}
		counter.Add(ctx, value, metric.WithAttributes(attribute.String("llm.backend", backend)))
	}
}

// New creates the backend named by cfg.Backend. API keys come from
// ANTHROPIC_API_KEY, OPENAI_API_KEY and GROK_API_KEY.
func New(cfg config.ServerConfig, in Instruments) (Completer, error) {
	switch cfg.Backend {
	case config.BackendOllama:
		return NewOllama(cfg.OllamaURL, cfg.OllamaModel, in)
	case config.BackendAnthropic:
		return NewAnthropic(os.Getenv("ANTHROPIC_API_KEY"), "", in)
	case config.BackendOpenAI:
		return NewOpenAI(OpenAIOptions{
			Name:    config.BackendOpenAI,
			APIKey:  os.Getenv("OPENAI_API_KEY"),
			BaseURL: os.Getenv("OPENAI_BASE_URL"),
			Model:   "gpt-3.5-turbo",
		}, in)
	case config.BackendGrok:
		return NewOpenAI(OpenAIOptions{
			Name:    config.BackendGrok,
			APIKey:  os.Getenv("GROK_API_KEY"),
			BaseURL: "https://api.x.ai/v1/",
			Model:   "grok-1",
		}, in)
	case config.BackendEcho:
		return Echo{}, nil
	default:
		return nil, fmt.Errorf("unknown backend: %s", cfg.Backend)
	}
}
