package telephony

import (
	"context"
	"fmt"

	"github.com/lexiqai/voice-intake/internal/intake"
	"github.com/lexiqai/voice-intake/internal/realtime"
)

// receiveTelephony reads Twilio events and forwards caller audio to the
// model in receive order. It returns nil on a stop event or a disconnect.
func (s *CallSession) receiveTelephony(ctx context.Context) error {
	for {
		_, data, err := s.telephony.conn.ReadMessage()
		if err != nil {
			if s.stopped() {
				return nil
			}
			if isDisconnect(err) {
				s.log().Info().Err(err).Msg("Telephony stream disconnected")
				s.setEndReason("disconnect")
				return nil
			}
			s.setEndReason("error")
			return fmt.Errorf("telephony read failed: %w", err)
		}

		ev := DecodeEvent(data)
		switch ev.Kind {
		case EventStart:
			s.handleStart(ev)

		case EventMedia:
			if err := s.handleMedia(ev); err != nil {
				if s.stopped() {
					return nil
				}
				s.setEndReason("error")
				return err
			}

		case EventMark:
			s.handleMark(ev.MarkName)

		case EventStop:
			s.log().Info().Msg("Call stopped")
			s.setEndReason("stop")
			if err := s.handleStop(); err != nil {
				s.log().Warn().Err(err).Msg("Failed to commit audio on stop")
			}
			return nil

		case EventConnected:
			s.log().Debug().Msg("Twilio stream connected")

		case EventUnknown:
			s.metrics.RecordError("malformed_event", "telephony")
			s.log().Warn().
				Str("event", ev.Name).
				Str("reason", ev.Reason).
				Msg("Skipping malformed telephony event")

		default:
			s.log().Debug().Str("event", ev.Name).Msg("Ignoring telephony event")
		}
	}
}

// handleStart binds the stream and gives it a fresh intake record.
func (s *CallSession) handleStart(ev Event) {
	s.mu.Lock()
	s.streamSid = ev.StreamSid
	s.callSid = ev.CallSid
	s.customParameters = ev.CustomParameters
	s.latestMediaTimestamp = 0
	s.lastAssistantItem = ""
	s.markQueue = nil
	s.hasResponseStart = false
	s.responseStart = 0
	s.appendedSinceCommit = false
	s.state = intake.NewState()
	s.logger = s.logger.With().
		Str("stream_sid", ev.StreamSid).
		Str("call_sid", ev.CallSid).
		Logger()
	s.mu.Unlock()

	s.log().Info().Msg("Incoming stream has started")
}

func (s *CallSession) handleMedia(ev Event) error {
	s.mu.Lock()
	if ev.Timestamp > s.latestMediaTimestamp {
		s.latestMediaTimestamp = ev.Timestamp
	}
	s.appendedSinceCommit = true
	s.mu.Unlock()

	if err := s.model.send(realtime.AppendAudio(ev.Payload)); err != nil {
		return fmt.Errorf("failed to forward caller audio: %w", err)
	}
	s.metrics.RecordAudioFrame("in", ev.Payload)
	return nil
}

// handleMark pops the oldest pending mark. Names are not matched; the
// queue only tracks how much audio is still buffered at Twilio.
func (s *CallSession) handleMark(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.markQueue) == 0 {
		return
	}
	if s.markQueue[0] != name {
		s.logger.Debug().
			Str("expected", s.markQueue[0]).
			Str("got", name).
			Msg("Mark out of order")
	}
	s.markQueue = s.markQueue[1:]
}

// handleStop commits buffered caller audio when the model does no turn
// detection of its own.
func (s *CallSession) handleStop() error {
	s.mu.Lock()
	commit := s.manualCommit && s.appendedSinceCommit
	s.appendedSinceCommit = false
	s.mu.Unlock()

	if !commit {
		return nil
	}
	return s.model.send(realtime.CommitAudio())
}
