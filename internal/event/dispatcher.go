package event

import (
	"fmt"
	"log/slog"
	"time"
)

// Handler receives decoded inbound events
type Handler interface {
	OnTranscription(Transcription)
	OnAIResponse(AIResponse)
	OnInputCleared()
	OnClientID(ClientID)
	OnServerError(ServerError)

	// OnReceived is called for every decoded event before its typed handler
	OnReceived(Received)
}

// Received summarizes the most recent inbound event for display
type Received struct {
	Type      string
	Content   string
	Timestamp time.Time
}

// Dispatcher routes inbound frames to a Handler by their type tag
type Dispatcher struct {
	handler Handler
	logger  *slog.Logger
	now     func() time.Time
}

// NewDispatcher creates a dispatcher delivering to handler
func NewDispatcher(handler Handler, logger *slog.Logger) (*Dispatcher, error) {
	if handler == nil {
		return nil, fmt.Errorf("handler cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	return &Dispatcher{handler: handler, logger: logger, now: time.Now}, nil
}

// Dispatch decodes raw and invokes the matching handler. A frame that fails
// to decode is logged and returned as an error; nothing else happens.
func (d *Dispatcher) Dispatch(raw []byte) (Event, error) {
	d.logger.Debug("raw event received", "frame", string(raw))

	ev, err := Decode(raw)
	if err != nil {
		d.logger.Error("failed to decode event", "error", err)
		return nil, fmt.Errorf("failed to dispatch event: %w", err)
	}

	d.handler.OnReceived(d.summarize(ev, raw))

	switch e := ev.(type) {
	case Transcription:
		if e.Text == "" {
			d.logger.Debug("ignoring empty transcription")
			break
		}
		d.logger.Info("got transcription", "length", len(e.Text))
		d.handler.OnTranscription(e)
	case AIResponse:
		d.logger.Info("got ai response", "length", len(e.Content), "conversation_id", e.ConversationID)
		d.handler.OnAIResponse(e)
	case InputCleared:
		d.handler.OnInputCleared()
	case ClientID:
		d.logger.Info("received client id from server", "client_id", e.ClientID)
		d.handler.OnClientID(e)
	case ServerError:
		d.logger.Warn("server reported error", "message", e.Message)
		d.handler.OnServerError(e)
	case Unknown:
		d.logger.Warn("ignoring event with unknown type", "type", e.Tag)
	}

	return ev, nil
}

func (d *Dispatcher) summarize(ev Event, raw []byte) Received {
	r := Received{Type: ev.Type(), Timestamp: d.now()}
	switch e := ev.(type) {
	case Transcription:
		r.Content = e.Text
	case AIResponse:
		r.Content = e.Content
	default:
		r.Content = string(raw)
	}
	return r
}
