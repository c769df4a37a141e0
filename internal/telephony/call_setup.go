package telephony

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/lexiqai/voice-intake/internal/config"
	"github.com/lexiqai/voice-intake/internal/observability"
	"github.com/twilio/twilio-go/twiml"
)

// MediaStreamPath is where Twilio opens the audio WebSocket.
const MediaStreamPath = "/media-stream"

// StreamURL builds the wss URL Twilio should connect to. PUBLIC_HOST wins
// over the request's Host header.
func StreamURL(cfg *config.Config, r *http.Request) string {
	host := strings.TrimSpace(cfg.PublicHost)
	if host == "" {
		host = r.Host
	}
	host = strings.TrimPrefix(strings.TrimPrefix(host, "https://"), "http://")
	host = strings.TrimSuffix(host, "/")
	return fmt.Sprintf("wss://%s%s", host, MediaStreamPath)
}

// BuildCallTwiML returns the TwiML answering an incoming call: an optional
// spoken greeting followed by a bidirectional media stream.
func BuildCallTwiML(streamURL, greeting string) (string, error) {
	var verbs []twiml.Element
	if greeting = strings.TrimSpace(greeting); greeting != "" {
		verbs = append(verbs, &twiml.VoiceSay{Message: greeting})
	}
	verbs = append(verbs, &twiml.VoiceConnect{
		InnerElements: []twiml.Element{
			&twiml.VoiceStream{Url: streamURL},
		},
	})
	return twiml.Voice(verbs)
}

// HandleIncomingCall answers Twilio's voice webhook.
func HandleIncomingCall(cfg *config.Config) http.HandlerFunc {
	logger := observability.WithComponent("call_setup")
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		streamURL := StreamURL(cfg, r)
		body, err := BuildCallTwiML(streamURL, cfg.CallGreeting)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to build TwiML")
			http.Error(w, "failed to build response", http.StatusInternalServerError)
			return
		}

		logger.Info().
			Str("call_sid", r.FormValue("CallSid")).
			Str("stream_url", streamURL).
			Msg("Incoming call answered")

		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(body))
	}
}
