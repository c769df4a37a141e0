package telephony

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// EventKind classifies an inbound Media Streams event.
type EventKind int

const (
	EventUnknown EventKind = iota // undecodable; Reason says why
	EventConnected
	EventStart
	EventMedia
	EventMark
	EventStop
	EventOther // well-formed but ignored, e.g. dtmf
)

// Event is a decoded inbound Media Streams message.
type Event struct {
	Kind             EventKind
	Name             string // the "event" field
	StreamSid        string
	CallSid          string
	CustomParameters map[string]string
	Timestamp        int64 // media: ms since stream start
	Payload          string
	MarkName         string
	Reason           string
}

// twilioMessage is the wire shape of every inbound Media Streams message.
type twilioMessage struct {
	Event     string       `json:"event"`
	StreamSid string       `json:"streamSid,omitempty"`
	Media     *twilioMedia `json:"media,omitempty"`
	Start     *twilioStart `json:"start,omitempty"`
	Mark      *twilioMark  `json:"mark,omitempty"`
}

type twilioMedia struct {
	Track     string          `json:"track"`
	Timestamp json.RawMessage `json:"timestamp"`
	Payload   string          `json:"payload"` // base64 mu-law, never decoded here
}

type twilioStart struct {
	AccountSid       string         `json:"accountSid"`
	CallSid          string         `json:"callSid"`
	StreamSid        string         `json:"streamSid"`
	Tracks           []string       `json:"tracks"`
	CustomParameters map[string]any `json:"customParameters,omitempty"`
}

type twilioMark struct {
	Name string `json:"name"`
}

// DecodeEvent decodes one telephony frame. Malformed frames come back as
// EventUnknown with a Reason instead of an error.
func DecodeEvent(data []byte) Event {
	var msg twilioMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return Event{Kind: EventUnknown, Reason: fmt.Sprintf("invalid json: %v", err)}
	}

	ev := Event{Name: msg.Event, StreamSid: msg.StreamSid}
	switch msg.Event {
	case "":
		return Event{Kind: EventUnknown, Reason: "missing event"}

	case "connected":
		ev.Kind = EventConnected

	case "start":
		if msg.Start == nil {
			return unknown(msg.Event, "start without payload")
		}
		ev.Kind = EventStart
		if msg.Start.StreamSid != "" {
			ev.StreamSid = msg.Start.StreamSid
		}
		ev.CallSid = msg.Start.CallSid
		ev.CustomParameters = stringParams(msg.Start.CustomParameters)
		if ev.StreamSid == "" {
			return unknown(msg.Event, "start without streamSid")
		}

	case "media":
		if msg.Media == nil || msg.Media.Payload == "" {
			return unknown(msg.Event, "media without payload")
		}
		ts, err := parseTimestamp(msg.Media.Timestamp)
		if err != nil {
			return unknown(msg.Event, err.Error())
		}
		ev.Kind = EventMedia
		ev.Timestamp = ts
		ev.Payload = msg.Media.Payload

	case "mark":
		ev.Kind = EventMark
		if msg.Mark != nil {
			ev.MarkName = msg.Mark.Name
		}

	case "stop":
		ev.Kind = EventStop

	default:
		ev.Kind = EventOther
	}
	return ev
}

func unknown(name, reason string) Event {
	return Event{Kind: EventUnknown, Name: name, Reason: reason}
}

// parseTimestamp accepts the documented string form and a bare number.
func parseTimestamp(raw json.RawMessage) (int64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, fmt.Errorf("media without timestamp")
	}
	text := string(raw)
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &text); err != nil {
			return 0, fmt.Errorf("invalid timestamp: %w", err)
		}
	}
	ts, err := strconv.ParseInt(text, 10, 64)
	if err != nil || ts < 0 {
		return 0, fmt.Errorf("invalid timestamp %q", text)
	}
	return ts, nil
}

func stringParams(params map[string]any) map[string]string {
	if len(params) == 0 {
		return nil
	}
	out := make(map[string]string, len(params))
	for k, v := range params {
		if s, ok := v.(string); ok {
			out[k] = s
			continue
		}
		out[k] = fmt.Sprint(v)
	}
	return out
}

// Outbound messages

type outboundMedia struct {
	Event     string       `json:"event"`
	StreamSid string       `json:"streamSid"`
	Media     mediaPayload `json:"media"`
}

type mediaPayload struct {
	Payload string `json:"payload"`
}

type outboundMark struct {
	Event     string   `json:"event"`
	StreamSid string   `json:"streamSid"`
	Mark      markName `json:"mark"`
}

type markName struct {
	Name string `json:"name"`
}

type outboundClear struct {
	Event     string `json:"event"`
	StreamSid string `json:"streamSid"`
}

// MediaMessage plays a base64 audio chunk to the caller.
func MediaMessage(streamSid, payload string) any {
	return outboundMedia{Event: "media", StreamSid: streamSid, Media: mediaPayload{Payload: payload}}
}

// MarkMessage asks Twilio to echo name once playback reaches this point.
func MarkMessage(streamSid, name string) any {
	return outboundMark{Event: "mark", StreamSid: streamSid, Mark: markName{Name: name}}
}

// ClearMessage drops all audio buffered for playback.
func ClearMessage(streamSid string) any {
	return outboundClear{Event: "clear", StreamSid: streamSid}
}
