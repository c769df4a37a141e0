package telephony

import (
	"context"
	"fmt"
	"strconv"

	"github.com/lexiqai/voice-intake/internal/realtime"
	"github.com/lexiqai/voice-intake/internal/tools"
)

// receiveModel reads realtime events and relays assistant audio to the
// caller in receive order. A closed model socket ends the call.
func (s *CallSession) receiveModel(ctx context.Context) error {
	for {
		_, data, err := s.model.conn.ReadMessage()
		if err != nil {
			if s.stopped() {
				return nil
			}
			if isDisconnect(err) {
				s.log().Info().Err(err).Msg("Model channel closed")
				s.setEndReason("model_closed")
				return nil
			}
			s.setEndReason("error")
			return fmt.Errorf("model read failed: %w", err)
		}

		ev := realtime.DecodeEvent(data)
		if ev.Kind == realtime.KindUnknown {
			s.metrics.RecordModelEvent("unknown")
		} else {
			s.metrics.RecordModelEvent(ev.Type)
		}

		if err := s.handleModelEvent(ctx, ev); err != nil {
			if s.stopped() {
				return nil
			}
			s.setEndReason("error")
			return err
		}
	}
}

func (s *CallSession) handleModelEvent(ctx context.Context, ev realtime.Event) error {
	switch ev.Kind {
	case realtime.KindAudioDelta:
		return s.forwardAssistantAudio(ev)

	case realtime.KindSpeechStarted:
		s.log().Info().Msg("Caller speech started")
		return s.handleBargeIn()

	case realtime.KindFunctionCall:
		return s.handleFunctionCall(ctx, ev.Call)

	case realtime.KindError:
		if ev.Err.IsBenign() {
			return nil
		}
		s.metrics.RecordError("model_error", "realtime")
		s.log().Warn().
			Str("code", ev.Err.Code).
			Str("error_type", ev.Err.Type).
			Str("message", ev.Err.Message).
			Msg("Realtime model error")
		return nil

	case realtime.KindUnknown:
		s.log().Warn().
			Str("type", ev.Type).
			Str("reason", ev.Reason).
			Msg("Skipping malformed model event")
		return nil

	default:
		logger := s.log()
		if realtime.IsLogged(ev.Type) {
			logger.Info().Str("type", ev.Type).Msg("Model event")
		} else {
			logger.Debug().Str("type", ev.Type).Msg("Model event")
		}
		return nil
	}
}

// forwardAssistantAudio plays one chunk to the caller and queues a mark
// behind it so barge-in can tell whether audio is still buffered.
func (s *CallSession) forwardAssistantAudio(ev realtime.Event) error {
	s.mu.Lock()
	streamSid := s.streamSid
	if streamSid == "" {
		s.mu.Unlock()
		s.log().Debug().Msg("Dropping assistant audio before stream start")
		return nil
	}
	if !s.hasResponseStart || (ev.ItemID != "" && ev.ItemID != s.lastAssistantItem) {
		s.responseStart = s.latestMediaTimestamp
		s.hasResponseStart = true
	}
	if ev.ItemID != "" {
		s.lastAssistantItem = ev.ItemID
	}
	s.markSeq++
	mark := "chunk-" + strconv.FormatUint(s.markSeq, 10)
	s.markQueue = append(s.markQueue, mark)
	s.mu.Unlock()

	if err := s.telephony.send(MediaMessage(streamSid, ev.Delta)); err != nil {
		return fmt.Errorf("failed to forward assistant audio: %w", err)
	}
	if err := s.telephony.send(MarkMessage(streamSid, mark)); err != nil {
		return fmt.Errorf("failed to send mark: %w", err)
	}
	s.metrics.RecordAudioFrame("out", ev.Delta)
	return nil
}

// handleFunctionCall returns exactly one output for the call, then asks the
// model to continue.
func (s *CallSession) handleFunctionCall(ctx context.Context, call realtime.FunctionCall) error {
	if call.CallID == "" {
		s.log().Warn().Str("function", call.Name).Msg("Function call without call id")
	}

	result := s.dispatcher.Dispatch(ctx, s.IntakeState(), call)

	if err := s.model.send(realtime.FunctionOutput(call.CallID, tools.Encode(result))); err != nil {
		return fmt.Errorf("failed to return function output: %w", err)
	}
	if err := s.model.send(realtime.CreateResponse()); err != nil {
		return fmt.Errorf("failed to request response: %w", err)
	}
	return nil
}
