package realtime

// Outbound message types.
const (
	TypeSessionUpdate          = "session.update"
	TypeInputAudioAppend       = "input_audio_buffer.append"
	TypeInputAudioCommit       = "input_audio_buffer.commit"
	TypeConversationItemCreate = "conversation.item.create"
	TypeConversationItemTrunc  = "conversation.item.truncate"
	TypeResponseCreate         = "response.create"
)

// SessionUpdate configures the model session.
type SessionUpdate struct {
	Type    string        `json:"type"`
	Session SessionConfig `json:"session"`
}

// SessionConfig is the body of a session.update.
type SessionConfig struct {
	InputAudioFormat  string         `json:"input_audio_format"`
	OutputAudioFormat string         `json:"output_audio_format"`
	TurnDetection     *TurnDetection `json:"turn_detection"` // null disables server VAD
	Voice             string         `json:"voice"`
	Instructions      string         `json:"instructions"`
	Modalities        []string       `json:"modalities"`
	Temperature       float64        `json:"temperature"`
	Tools             []Tool         `json:"tools"`
	ToolChoice        string         `json:"tool_choice,omitempty"`
}

// TurnDetection is the server-side voice activity detection config.
type TurnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms"`
	SilenceDurationMs int     `json:"silence_duration_ms"`
	CreateResponse    bool    `json:"create_response"`
	InterruptResponse bool    `json:"interrupt_response"`
}

// Tool is a function schema the model may call.
type Tool struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// InputAudioAppend forwards one caller audio chunk.
type InputAudioAppend struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

// InputAudioCommit closes the current input turn.
type InputAudioCommit struct {
	Type string `json:"type"`
}

// ConversationItemTruncate cuts an assistant item at the audio the caller heard.
type ConversationItemTruncate struct {
	Type         string `json:"type"`
	ItemID       string `json:"item_id"`
	ContentIndex int    `json:"content_index"`
	AudioEndMs   int64  `json:"audio_end_ms"`
}

// ConversationItemCreate adds an item to the conversation.
type ConversationItemCreate struct {
	Type string `json:"type"`
	Item Item   `json:"item"`
}

// Item is a conversation item. Only the fields relevant to Type are set.
type Item struct {
	Type    string        `json:"type"`
	Role    string        `json:"role,omitempty"`
	Content []ContentPart `json:"content,omitempty"`
	CallID  string        `json:"call_id,omitempty"`
	Output  string        `json:"output,omitempty"`
}

// ContentPart is one piece of message content.
type ContentPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// ResponseCreate asks the model to respond.
type ResponseCreate struct {
	Type string `json:"type"`
}

func AppendAudio(payload string) InputAudioAppend {
	return InputAudioAppend{Type: TypeInputAudioAppend, Audio: payload}
}

func CommitAudio() InputAudioCommit {
	return InputAudioCommit{Type: TypeInputAudioCommit}
}

// Truncate builds a truncate for content index 0, the only audio part an
// assistant item carries.
func Truncate(itemID string, audioEndMs int64) ConversationItemTruncate {
	return ConversationItemTruncate{
		Type:         TypeConversationItemTrunc,
		ItemID:       itemID,
		ContentIndex: 0,
		AudioEndMs:   audioEndMs,
	}
}

// FunctionOutput returns a tool result to the model. output must be JSON text.
func FunctionOutput(callID, output string) ConversationItemCreate {
	return ConversationItemCreate{
		Type: TypeConversationItemCreate,
		Item: Item{
			Type:   "function_call_output",
			CallID: callID,
			Output: output,
		},
	}
}

// UserText adds a user text message.
func UserText(text string) ConversationItemCreate {
	return ConversationItemCreate{
		Type: TypeConversationItemCreate,
		Item: Item{
			Type:    "message",
			Role:    "user",
			Content: []ContentPart{{Type: "input_text", Text: text}},
		},
	}
}

func CreateResponse() ResponseCreate {
	return ResponseCreate{Type: TypeResponseCreate}
}
