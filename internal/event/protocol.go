package event

// Wire types for the live channel between client and backend.
// Every frame is a JSON object tagged with a "type" field.

import (
	"encoding/json"
	"errors"
	"fmt"

	"PhantomQuery/internal/conversation"
)

// Server to client event types
const (
	TypeTranscription = "transcription"
	TypeAIResponse    = "ai_response"
	TypeInputCleared  = "input_cleared"
	TypeClientID      = "client_id"
	TypeError         = "error"
)

// Client to server command types
const (
	TypeConnection  = "connection"
	TypeSendMessage = "send_message"
	TypeClearInput  = "clear_input"
)

// ErrMalformed is returned for frames that are not a tagged JSON object
var ErrMalformed = errors.New("malformed event")

// Tagged is anything that can be written to the channel
type Tagged interface {
	Type() string
}

// Event is an inbound event. The variant set is closed: Transcription,
// AIResponse, InputCleared, ClientID, ServerError and Unknown.
type Event interface {
	Tagged
	isEvent()
}

// Transcription carries recognized speech to be placed in the input box
type Transcription struct {
	Text   string `json:"text"`
	Append bool   `json:"append,omitempty"`
}

// AIResponse carries an assistant reply
type AIResponse struct {
	Content        string          `json:"content"`
	ConversationID conversation.ID `json:"conversationId,omitempty"`
}

// InputCleared asks the client to reset its input box
type InputCleared struct{}

// ClientID assigns the connection identifier
type ClientID struct {
	ClientID string `json:"clientId"`
}

// ServerError reports a failure on the server side
type ServerError struct {
	Message string `json:"message"`
}

// Unknown is any event whose tag is not recognized
type Unknown struct {
	Tag string
	Raw json.RawMessage
}

func (Transcription) Type() string { return TypeTranscription }
func (AIResponse) Type() string    { return TypeAIResponse }
func (InputCleared) Type() string  { return TypeInputCleared }
func (ClientID) Type() string      { return TypeClientID }
func (ServerError) Type() string   { return TypeError }
func (u Unknown) Type() string     { return u.Tag }

func (Transcription) isEvent() {}
func (AIResponse) isEvent()    {}
func (InputCleared) isEvent()  {}
func (ClientID) isEvent()      {}
func (ServerError) isEvent()   {}
func (Unknown) isEvent()       {}

// Command is an outbound message from client to server
type Command interface {
	Tagged
	isCommand()
}

// Connection is sent once when the link is established
type Connection struct {
	Message string `json:"message"`
}

// SendMessage submits user input. ConversationID is null when no
// conversation is selected.
type SendMessage struct {
	Content        string           `json:"content"`
	ConversationID *conversation.ID `json:"conversationId"`
}

// ClearInput asks the server to reset the tracked input for this client
type ClearInput struct{}

// UnknownCommand is any command whose tag is not recognized
type UnknownCommand struct {
	Tag string
	Raw json.RawMessage
}

func (Connection) Type() string       { return TypeConnection }
func (SendMessage) Type() string      { return TypeSendMessage }
func (ClearInput) Type() string       { return TypeClearInput }
func (u UnknownCommand) Type() string { return u.Tag }

func (Connection) isCommand()     {}
func (SendMessage) isCommand()    {}
func (ClearInput) isCommand()     {}
func (UnknownCommand) isCommand() {}

type envelope struct {
	Type string `json:"type"`
}

func readTag(raw []byte) (string, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Type == "" {
		return "", fmt.Errorf("%w: missing type", ErrMalformed)
	}
	return env.Type, nil
}

func decodeEvent[T Event](raw []byte) (Event, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return v, nil
}

func decodeCommand[T Command](raw []byte) (Command, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return v, nil
}

// Decode parses an inbound frame into its event variant. Unrecognized tags
// decode to Unknown without error.
func Decode(raw []byte) (Event, error) {
	tag, err := readTag(raw)
	if err != nil {
		return nil, err
	}

	switch tag {
	case TypeTranscription:
		return decodeEvent[Transcription](raw)
	case TypeAIResponse:
		return decodeEvent[AIResponse](raw)
	case TypeInputCleared:
		return InputCleared{}, nil
	case TypeClientID:
		return decodeEvent[ClientID](raw)
	case TypeError:
		return decodeEvent[ServerError](raw)
	default:
		return Unknown{Tag: tag, Raw: append(json.RawMessage(nil), raw...)}, nil
	}
}

// DecodeCommand parses an outbound frame on the server side
func DecodeCommand(raw []byte) (Command, error) {
	tag, err := readTag(raw)
	if err != nil {
		return nil, err
	}

	switch tag {
	case TypeConnection:
		return decodeCommand[Connection](raw)
	case TypeSendMessage:
		return decodeCommand[SendMessage](raw)
	case TypeClearInput:
		return ClearInput{}, nil
	default:
		return UnknownCommand{Tag: tag, Raw: append(json.RawMessage(nil), raw...)}, nil
	}
}

// Encode writes v as a JSON object with its type tag first
func Encode(v Tagged) ([]byte, error) {
	switch u := v.(type) {
	case Unknown:
		return nil, fmt.Errorf("cannot encode unknown event %q", u.Tag)
	case UnknownCommand:
		return nil, fmt.Errorf("cannot encode unknown command %q", u.Tag)
	}

	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", v.Type(), err)
	}
	tag, err := json.Marshal(v.Type())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal type tag: %w", err)
	}

	out := make([]byte, 0, len(body)+len(tag)+10)
	out = append(out, `{"type":`...)
	out = append(out, tag...)
	if len(body) > 2 {
		out = append(out, ',')
		out = append(out, body[1:]...)
	} else {
		out = append(out, '}')
	}
	return out, nil
}
