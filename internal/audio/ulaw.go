// Package audio answers questions about G.711 mu-law payloads as they cross
// the bridge. Payloads stay base64 text; nothing here decodes samples.
package audio

import (
	"encoding/base64"
	"strings"
	"time"
)

// SampleRate of Twilio media streams and the model's g711_ulaw format.
// Each mu-law sample is one byte.
const SampleRate = 8000

// PayloadSize returns the number of audio bytes a base64 payload carries,
// computed from its length. Invalid lengths round down.
func PayloadSize(payload string) int {
	payload = strings.TrimRight(payload, "=")
	return base64.RawStdEncoding.DecodedLen(len(payload))
}

// PayloadDuration returns the playback length of a base64 mu-law payload.
func PayloadDuration(payload string) time.Duration {
	return SamplesDuration(PayloadSize(payload))
}

// SamplesDuration returns the playback length of n mu-law samples.
func SamplesDuration(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / SampleRate
}
