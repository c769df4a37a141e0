package realtime

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Kind classifies an inbound realtime event.
type Kind int

const (
	KindUnknown Kind = iota // could not be decoded; Reason says why
	KindSessionCreated
	KindSessionUpdated
	KindAudioDelta
	KindSpeechStarted
	KindSpeechStopped
	KindFunctionCall
	KindResponseCreated
	KindResponseDone
	KindError
	KindOther // well-formed but not acted on
)

// Event types the bridge reacts to.
const (
	TypeSessionCreated            = "session.created"
	TypeSessionUpdated            = "session.updated"
	TypeAudioDelta                = "response.audio.delta"
	TypeOutputAudioDelta          = "response.output_audio.delta"
	TypeSpeechStarted             = "input_audio_buffer.speech_started"
	TypeSpeechStopped             = "input_audio_buffer.speech_stopped"
	TypeFunctionCall              = "response.function_call"
	TypeFunctionCallArgumentsDone = "response.function_call_arguments.done"
	TypeResponseCreated           = "response.created"
	TypeResponseDone              = "response.done"
	TypeError                     = "error"
)

// ErrorCodeCommitEmpty is reported when a commit races an already drained buffer.
const ErrorCodeCommitEmpty = "input_audio_buffer_commit_empty"

// loggedEventTypes are logged at info level; everything else goes to debug.
var loggedEventTypes = map[string]struct{}{
	"error":                             {},
	"response.content.done":             {},
	"rate_limits.updated":               {},
	"response.done":                     {},
	"input_audio_buffer.committed":      {},
	"input_audio_buffer.speech_stopped": {},
	"input_audio_buffer.speech_started": {},
	"session.created":                   {},
	"response.function_call":            {},
	"conversation.item.created":         {},
	"response.audio.delta":              {},
	"response.create":                   {},
}

// IsLogged reports whether events of this type are logged at info level.
func IsLogged(eventType string) bool {
	_, ok := loggedEventTypes[eventType]
	return ok
}

// Event is a decoded inbound realtime event.
type Event struct {
	Kind       Kind
	Type       string
	Delta      string // base64 audio for KindAudioDelta
	ItemID     string
	ResponseID string
	Call       FunctionCall
	Err        APIError
	Reason     string // set for KindUnknown
}

// FunctionCall is a tool invocation requested by the model.
type FunctionCall struct {
	Name      string
	CallID    string
	Arguments map[string]any
}

// APIError is the payload of an "error" event.
type APIError struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Param   string `json:"param"`
	EventID string `json:"event_id"`
}

// IsBenign reports whether the error can be dropped without logging.
func (e APIError) IsBenign() bool {
	return e.Code == ErrorCodeCommitEmpty
}

type rawEvent struct {
	Type       string          `json:"type"`
	Delta      string          `json:"delta"`
	ItemID     string          `json:"item_id"`
	ResponseID string          `json:"response_id"`
	Name       string          `json:"name"`
	CallID     string          `json:"call_id"`
	ID         string          `json:"id"`
	Arguments  json.RawMessage `json:"arguments"`
	Item       *rawItem        `json:"item"`
	Error      *APIError       `json:"error"`
}

type rawItem struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	CallID    string          `json:"call_id"`
	Arguments json.RawMessage `json:"arguments"`
}

// DecodeEvent decodes one frame from the model channel. It never fails:
// frames that cannot be understood come back as KindUnknown with a Reason.
func DecodeEvent(data []byte) Event {
	var raw rawEvent
	if err := json.Unmarshal(data, &raw); err != nil {
		return Event{Kind: KindUnknown, Reason: fmt.Sprintf("invalid json: %v", err)}
	}
	if raw.Type == "" {
		return Event{Kind: KindUnknown, Reason: "missing type"}
	}

	ev := Event{
		Type:       raw.Type,
		ItemID:     raw.ItemID,
		ResponseID: raw.ResponseID,
	}

	switch raw.Type {
	case TypeSessionCreated:
		ev.Kind = KindSessionCreated
	case TypeSessionUpdated:
		ev.Kind = KindSessionUpdated
	case TypeAudioDelta, TypeOutputAudioDelta:
		if raw.Delta == "" {
			return Event{Kind: KindUnknown, Type: raw.Type, Reason: "audio delta without payload"}
		}
		ev.Kind = KindAudioDelta
		ev.Delta = raw.Delta
	case TypeSpeechStarted:
		ev.Kind = KindSpeechStarted
	case TypeSpeechStopped:
		ev.Kind = KindSpeechStopped
	case TypeFunctionCall, TypeFunctionCallArgumentsDone:
		ev.Kind = KindFunctionCall
		ev.Call = decodeFunctionCall(raw)
	case TypeResponseCreated:
		ev.Kind = KindResponseCreated
	case TypeResponseDone:
		ev.Kind = KindResponseDone
	case TypeError:
		ev.Kind = KindError
		if raw.Error != nil {
			ev.Err = *raw.Error
		}
	default:
		ev.Kind = KindOther
	}
	return ev
}

func decodeFunctionCall(raw rawEvent) FunctionCall {
	name, callID, id, args := raw.Name, raw.CallID, raw.ID, raw.Arguments
	if raw.Item != nil {
		if name == "" {
			name = raw.Item.Name
		}
		if callID == "" {
			callID = raw.Item.CallID
		}
		if id == "" {
			id = raw.Item.ID
		}
		if len(args) == 0 {
			args = raw.Item.Arguments
		}
	}
	if callID == "" {
		callID = id
	}
	return FunctionCall{
		Name:      name,
		CallID:    callID,
		Arguments: decodeArguments(args),
	}
}

// decodeArguments accepts an object or a string holding an encoded object.
// Anything else yields an empty, non-nil map.
func decodeArguments(data json.RawMessage) map[string]any {
	args := map[string]any{}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return args
	}

	if data[0] == '"' {
		var encoded string
		if err := json.Unmarshal(data, &encoded); err != nil {
			return args
		}
		data = []byte(encoded)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil || decoded == nil {
		return args
	}
	return decoded
}
