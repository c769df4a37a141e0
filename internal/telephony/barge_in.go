package telephony

import (
	"fmt"

	"github.com/lexiqai/voice-intake/internal/realtime"
)

// handleBargeIn interrupts assistant playback when the caller starts
// talking. It only acts while audio is still buffered at Twilio and a
// response is in flight; either way the response tracking is reset, so a
// second speech-started without new audio does nothing.
//
// Runs only on the model reader goroutine, so two barge-ins never overlap.
func (s *CallSession) handleBargeIn() error {
	s.mu.Lock()
	interrupt := len(s.markQueue) > 0 && s.hasResponseStart
	var elapsed int64
	if interrupt {
		elapsed = s.latestMediaTimestamp - s.responseStart
		if elapsed < 0 {
			elapsed = 0
		}
	}
	itemID := s.lastAssistantItem
	streamSid := s.streamSid
	s.mu.Unlock()

	s.metrics.RecordBargeIn(interrupt, elapsed)

	if interrupt {
		if itemID != "" {
			if err := s.model.send(realtime.Truncate(itemID, elapsed)); err != nil {
				return fmt.Errorf("failed to truncate assistant item: %w", err)
			}
		}
		if err := s.telephony.send(ClearMessage(streamSid)); err != nil {
			return fmt.Errorf("failed to clear playback: %w", err)
		}
		s.log().Info().
			Str("item_id", itemID).
			Int64("audio_end_ms", elapsed).
			Msg("Assistant interrupted")
	}

	s.mu.Lock()
	if interrupt {
		s.markQueue = nil
	}
	s.lastAssistantItem = ""
	s.hasResponseStart = false
	s.responseStart = 0
	s.mu.Unlock()
	return nil
}
