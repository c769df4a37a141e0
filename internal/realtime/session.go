package realtime

import (
	"github.com/lexiqai/voice-intake/internal/config"
)

// Instructions is the system prompt for the intake agent.
const Instructions = "You are a medical intake voice agent for Doctors.\n" +
	"CRITICAL: Always acknowledge user responses immediately and proceed without pausing.\n" +
	"Your goals:\n" +
	"1) Collect: patient first name, last name and date of birth.\n" +
	"2) Collect insurance info: payer name and payer ID.\n" +
	"3) Ask if they have a referral; if yes, capture the referring physician.\n" +
	"4) Collect chief medical complaint / reason for visit.\n" +
	"5) Collect demographics: full street address, city, state, ZIP.\n" +
	"   - After the caller provides an address, call the `validate_address` tool.\n" +
	"   - If invalid or missing components, politely ask for corrections.\n" +
	"6) Collect contact info: phone (required) and email (optional).\n" +
	"7) Offer best available providers and times. Use the `get_available_appointments` tool.\n" +
	"8) The call is *not resolved* until all items are captured. Use short, respectful prompts.\n" +
	"Persist every answer with `update_intake_state` as soon as you hear it.\n" +
	"When everything is gathered, call `finalize_appointment`.\n\n" +
	"IMPORTANT: After the user provides information, always acknowledge what you heard " +
	"and proceed to the next question or step. Never wait in silence after receiving user input."

// GreetingPrompt seeds the conversation so the model speaks first.
const GreetingPrompt = "Greet the caller: 'Let's schedule your doctor's visit.'"

// AudioFormat is the telephony codec; payloads pass through untouched.
const AudioFormat = "g711_ulaw"

// ServerVAD returns the turn detection settings used when the model
// detects speech itself.
func ServerVAD() *TurnDetection {
	return &TurnDetection{
		Type:              "server_vad",
		Threshold:         0.5,
		PrefixPaddingMs:   300,
		SilenceDurationMs: 800,
		CreateResponse:    true,
		InterruptResponse: true,
	}
}

// NewSessionUpdate builds the session configuration sent right after dialing.
func NewSessionUpdate(cfg *config.Config, tools []Tool) SessionUpdate {
	var turn *TurnDetection
	if !cfg.ManualCommit() {
		turn = ServerVAD()
	}
	return SessionUpdate{
		Type: TypeSessionUpdate,
		Session: SessionConfig{
			InputAudioFormat:  AudioFormat,
			OutputAudioFormat: AudioFormat,
			TurnDetection:     turn,
			Voice:             cfg.RealtimeVoice,
			Instructions:      Instructions,
			Modalities:        []string{"text", "audio"},
			Temperature:       cfg.RealtimeTemperature,
			Tools:             tools,
			ToolChoice:        "auto",
		},
	}
}

// InitialMessages returns, in send order, the frames that open a call:
// session configuration, the greeting prompt and a response request.
func InitialMessages(cfg *config.Config, tools []Tool) []any {
	return []any{
		NewSessionUpdate(cfg, tools),
		UserText(GreetingPrompt),
		CreateResponse(),
	}
}
