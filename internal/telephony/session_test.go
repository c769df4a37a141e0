package telephony

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/lexiqai/voice-intake/internal/config"
	"github.com/lexiqai/voice-intake/internal/intake"
	"github.com/lexiqai/voice-intake/internal/realtime"
)

// fakeConn is an in-memory WebSocket peer. Frames pushed with deliver are
// returned by ReadMessage; hangup simulates the remote side going away.
type fakeConn struct {
	in     chan []byte
	writes chan map[string]any

	closed     chan struct{}
	closeOnce  sync.Once
	hangupOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan []byte, 64),
		writes: make(chan map[string]any, 256),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case data, ok := <-c.in:
		if !ok {
			return 0, nil, io.EOF
		}
		return 1, data, nil
	case <-c.closed:
		return 0, nil, net.ErrClosed
	}
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	select {
	case <-c.closed:
		return net.ErrClosed
	default:
	}
	var msg map[string]any
	if err := json.Unmarshal(data, &msg); err != nil {
		return err
	}
	c.writes <- msg
	return nil
}

func (c *fakeConn) SetWriteDeadline(t time.Time) error { return nil }

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeConn) deliver(t *testing.T, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("Failed to marshal frame: %v", err)
	}
	c.in <- data
}

func (c *fakeConn) hangup() {
	c.hangupOnce.Do(func() { close(c.in) })
}

func (c *fakeConn) next(t *testing.T) map[string]any {
	t.Helper()
	select {
	case msg := <-c.writes:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for write")
		return nil
	}
}

func (c *fakeConn) expectNoWrite(t *testing.T) {
	t.Helper()
	select {
	case msg := <-c.writes:
		t.Fatalf("Expected no write, got %v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

type fakeDispatcher struct {
	mu     sync.Mutex
	calls  []realtime.FunctionCall
	result any
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, state *intake.State, call realtime.FunctionCall) any {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, call)
	return d.result
}

func testConfig(turnDetection string) *config.Config {
	return &config.Config{
		OpenAIAPIKey:        "sk-test",
		RealtimeModel:       "gpt-4o-realtime-preview",
		RealtimeVoice:       "alloy",
		RealtimeTemperature: 0.8,
		TurnDetection:       turnDetection,
		WriteTimeout:        1,
	}
}

type runningSession struct {
	session *CallSession
	tel     *fakeConn
	model   *fakeConn
	cancel  context.CancelFunc
	result  chan error
}

func startSession(t *testing.T, cfg *config.Config, dispatcher FunctionDispatcher) *runningSession {
	t.Helper()
	if dispatcher == nil {
		dispatcher = &fakeDispatcher{result: map[string]any{"ok": true}}
	}
	tel, model := newFakeConn(), newFakeConn()
	session := NewCallSession(cfg, tel, model, dispatcher)

	ctx, cancel := context.WithCancel(context.Background())
	rs := &runningSession{session: session, tel: tel, model: model, cancel: cancel, result: make(chan error, 1)}
	go func() { rs.result <- session.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		tel.Close()
		model.Close()
	})
	return rs
}

func (rs *runningSession) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-rs.result:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for session to end")
		return nil
	}
}

func startFrame(streamSid string) map[string]any {
	return map[string]any{
		"event":     "start",
		"streamSid": streamSid,
		"start": map[string]any{
			"streamSid": streamSid,
			"callSid":   "CA123",
			"tracks":    []string{"inbound"},
		},
	}
}

func mediaFrame(ts, payload string) map[string]any {
	return map[string]any{
		"event": "media",
		"media": map[string]any{"track": "inbound", "timestamp": ts, "payload": payload},
	}
}

func markFrame(name string) map[string]any {
	return map[string]any{"event": "mark", "mark": map[string]any{"name": name}}
}

func audioDelta(itemID, delta string) map[string]any {
	return map[string]any{"type": realtime.TypeAudioDelta, "item_id": itemID, "delta": delta}
}

func speechStarted() map[string]any {
	return map[string]any{"type": realtime.TypeSpeechStarted}
}

func (rs *runningSession) latestTimestamp() int64 {
	rs.session.mu.Lock()
	defer rs.session.mu.Unlock()
	return rs.session.latestMediaTimestamp
}

func (rs *runningSession) pendingMarks() int {
	rs.session.mu.Lock()
	defer rs.session.mu.Unlock()
	return len(rs.session.markQueue)
}

// bindStream sends a start frame and waits until the telephony loop has
// bound the stream, so model audio sent afterwards is not dropped.
func (rs *runningSession) bindStream(t *testing.T, streamSid string) {
	t.Helper()
	rs.tel.deliver(t, startFrame(streamSid))
	deadline := time.Now().Add(2 * time.Second)
	for rs.session.StreamSid() != streamSid {
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for stream %s to bind", streamSid)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestCallSession_ForwardsCallerAudioInOrder(t *testing.T) {
	rs := startSession(t, testConfig("server_vad"), nil)

	rs.tel.deliver(t, startFrame("MZ1"))
	rs.tel.deliver(t, mediaFrame("100", "AAA"))
	rs.tel.deliver(t, mediaFrame("50", "BBB"))
	rs.tel.deliver(t, mediaFrame("200", "CCC"))

	for _, want := range []string{"AAA", "BBB", "CCC"} {
		msg := rs.model.next(t)
		if msg["type"] != realtime.TypeInputAudioAppend {
			t.Fatalf("Expected %s, got %v", realtime.TypeInputAudioAppend, msg["type"])
		}
		if msg["audio"] != want {
			t.Errorf("Expected audio %s, got %v", want, msg["audio"])
		}
	}

	if ts := rs.latestTimestamp(); ts != 200 {
		t.Errorf("Expected latest timestamp 200, got %d", ts)
	}
	if sid := rs.session.StreamSid(); sid != "MZ1" {
		t.Errorf("Expected stream sid MZ1, got %s", sid)
	}
}

func TestCallSession_TimestampNeverDecreases(t *testing.T) {
	rs := startSession(t, testConfig("server_vad"), nil)

	rs.tel.deliver(t, startFrame("MZ1"))
	rs.tel.deliver(t, mediaFrame("500", "AAA"))
	rs.model.next(t)
	rs.tel.deliver(t, mediaFrame("120", "BBB"))
	rs.model.next(t)

	if ts := rs.latestTimestamp(); ts != 500 {
		t.Errorf("Expected latest timestamp 500, got %d", ts)
	}
}

func TestCallSession_MalformedFramesAreSkipped(t *testing.T) {
	rs := startSession(t, testConfig("server_vad"), nil)

	rs.tel.in <- []byte("not json")
	rs.tel.deliver(t, map[string]any{"event": "media", "media": map[string]any{"timestamp": "10"}})
	rs.tel.deliver(t, startFrame("MZ1"))
	rs.tel.deliver(t, mediaFrame("10", "AAA"))

	msg := rs.model.next(t)
	if msg["audio"] != "AAA" {
		t.Errorf("Expected first forwarded audio AAA, got %v", msg["audio"])
	}
}

func TestCallSession_StopCommitsInManualMode(t *testing.T) {
	rs := startSession(t, testConfig("none"), nil)

	rs.tel.deliver(t, startFrame("MZ1"))
	rs.tel.deliver(t, mediaFrame("20", "AAA"))
	rs.model.next(t)
	rs.tel.deliver(t, map[string]any{"event": "stop", "streamSid": "MZ1"})

	msg := rs.model.next(t)
	if msg["type"] != realtime.TypeInputAudioCommit {
		t.Errorf("Expected %s, got %v", realtime.TypeInputAudioCommit, msg["type"])
	}

	if err := rs.wait(t); err != nil {
		t.Errorf("Expected clean end, got %v", err)
	}
	if reason := rs.session.EndReason(); reason != "stop" {
		t.Errorf("Expected end reason stop, got %s", reason)
	}
	if !rs.tel.isClosed() || !rs.model.isClosed() {
		t.Error("Expected both connections closed")
	}
}

func TestCallSession_StopDoesNotCommitWithServerVAD(t *testing.T) {
	rs := startSession(t, testConfig("server_vad"), nil)

	rs.tel.deliver(t, startFrame("MZ1"))
	rs.tel.deliver(t, mediaFrame("20", "AAA"))
	rs.model.next(t)
	rs.tel.deliver(t, map[string]any{"event": "stop"})

	if err := rs.wait(t); err != nil {
		t.Errorf("Expected clean end, got %v", err)
	}
	rs.model.expectNoWrite(t)
}

func TestCallSession_AssistantAudioGetsOneMarkPerChunk(t *testing.T) {
	rs := startSession(t, testConfig("server_vad"), nil)

	rs.bindStream(t, "MZ1")
	rs.model.deliver(t, audioDelta("item_1", "d1"))
	rs.model.deliver(t, audioDelta("item_1", "d2"))

	var marks []string
	for _, want := range []string{"d1", "d2"} {
		media := rs.tel.next(t)
		if media["event"] != "media" {
			t.Fatalf("Expected media, got %v", media["event"])
		}
		if media["streamSid"] != "MZ1" {
			t.Errorf("Expected streamSid MZ1, got %v", media["streamSid"])
		}
		payload := media["media"].(map[string]any)["payload"]
		if payload != want {
			t.Errorf("Expected payload %s, got %v", want, payload)
		}

		mark := rs.tel.next(t)
		if mark["event"] != "mark" {
			t.Fatalf("Expected mark, got %v", mark["event"])
		}
		marks = append(marks, mark["mark"].(map[string]any)["name"].(string))
	}

	if marks[0] == marks[1] {
		t.Errorf("Expected distinct mark names, got %v", marks)
	}
	if n := rs.pendingMarks(); n != 2 {
		t.Errorf("Expected 2 pending marks, got %d", n)
	}

	rs.tel.deliver(t, markFrame(marks[0]))
	rs.tel.deliver(t, markFrame(marks[1]))
	// A stop forces the telephony loop to drain the marks before ending.
	rs.tel.deliver(t, map[string]any{"event": "stop"})
	rs.wait(t)

	if n := rs.pendingMarks(); n != 0 {
		t.Errorf("Expected mark queue drained, got %d", n)
	}
}

func TestCallSession_AudioBeforeStartIsDropped(t *testing.T) {
	rs := startSession(t, testConfig("server_vad"), nil)

	rs.model.deliver(t, audioDelta("item_1", "early"))
	rs.model.deliver(t, map[string]any{"type": "response.done"})
	rs.tel.expectNoWrite(t)

	if n := rs.pendingMarks(); n != 0 {
		t.Errorf("Expected no pending marks, got %d", n)
	}
}

func TestCallSession_BargeInTruncatesAndClears(t *testing.T) {
	rs := startSession(t, testConfig("server_vad"), nil)

	rs.tel.deliver(t, startFrame("MZ1"))
	rs.tel.deliver(t, mediaFrame("1000", "AAA"))
	rs.model.next(t)

	rs.model.deliver(t, audioDelta("item_1", "d1"))
	rs.tel.next(t) // media
	rs.tel.next(t) // mark

	rs.tel.deliver(t, mediaFrame("1500", "BBB"))
	rs.model.next(t)

	rs.model.deliver(t, speechStarted())

	truncate := rs.model.next(t)
	if truncate["type"] != realtime.TypeConversationItemTrunc {
		t.Fatalf("Expected %s, got %v", realtime.TypeConversationItemTrunc, truncate["type"])
	}
	if truncate["item_id"] != "item_1" {
		t.Errorf("Expected item_id item_1, got %v", truncate["item_id"])
	}
	if truncate["content_index"] != float64(0) {
		t.Errorf("Expected content_index 0, got %v", truncate["content_index"])
	}
	if truncate["audio_end_ms"] != float64(500) {
		t.Errorf("Expected audio_end_ms 500, got %v", truncate["audio_end_ms"])
	}

	clearMsg := rs.tel.next(t)
	if clearMsg["event"] != "clear" || clearMsg["streamSid"] != "MZ1" {
		t.Errorf("Expected clear for MZ1, got %v", clearMsg)
	}

	// No new audio since the interruption: the second one has nothing to cut.
	rs.model.deliver(t, speechStarted())
	rs.model.deliver(t, audioDelta("item_2", "d2"))

	next := rs.tel.next(t)
	if next["event"] != "media" {
		t.Errorf("Expected media after second speech start, got %v", next["event"])
	}
	rs.model.expectNoWrite(t)
}

func TestCallSession_BargeInWithoutPendingAudioDoesNothing(t *testing.T) {
	rs := startSession(t, testConfig("server_vad"), nil)

	rs.bindStream(t, "MZ1")
	rs.model.deliver(t, audioDelta("item_1", "d1"))
	rs.tel.next(t)
	mark := rs.tel.next(t)
	name := mark["mark"].(map[string]any)["name"].(string)

	rs.tel.deliver(t, markFrame(name))
	// Round-trip a media frame so the mark has been consumed.
	rs.tel.deliver(t, mediaFrame("10", "AAA"))
	rs.model.next(t)

	rs.model.deliver(t, speechStarted())
	rs.model.expectNoWrite(t)
	rs.tel.expectNoWrite(t)
}

func TestCallSession_ElapsedClampedAtZero(t *testing.T) {
	rs := startSession(t, testConfig("server_vad"), nil)

	rs.tel.deliver(t, startFrame("MZ1"))
	rs.tel.deliver(t, mediaFrame("800", "AAA"))
	rs.model.next(t)
	rs.model.deliver(t, audioDelta("item_1", "d1"))
	rs.tel.next(t)
	rs.tel.next(t)

	// Force a start ahead of the latest caller timestamp.
	rs.session.mu.Lock()
	rs.session.responseStart = 900
	rs.session.mu.Unlock()

	rs.model.deliver(t, speechStarted())
	truncate := rs.model.next(t)
	if truncate["audio_end_ms"] != float64(0) {
		t.Errorf("Expected audio_end_ms 0, got %v", truncate["audio_end_ms"])
	}
}

func TestCallSession_SameItemKeepsResponseStart(t *testing.T) {
	rs := startSession(t, testConfig("server_vad"), nil)

	rs.tel.deliver(t, startFrame("MZ1"))
	for _, step := range []struct{ ts, delta string }{{"1000", "d1"}, {"1500", "d2"}} {
		rs.tel.deliver(t, mediaFrame(step.ts, "AAA"))
		rs.model.next(t)
		rs.model.deliver(t, audioDelta("item_1", step.delta))
		rs.tel.next(t) // media
		rs.tel.next(t) // mark
	}

	rs.tel.deliver(t, mediaFrame("1700", "BBB"))
	rs.model.next(t)
	rs.model.deliver(t, speechStarted())

	truncate := rs.model.next(t)
	if truncate["item_id"] != "item_1" {
		t.Errorf("Expected item_id item_1, got %v", truncate["item_id"])
	}
	if truncate["audio_end_ms"] != float64(700) {
		t.Errorf("Expected audio_end_ms 700, got %v", truncate["audio_end_ms"])
	}

	// The queue is emptied right after the clear is written.
	if msg := rs.tel.next(t); msg["event"] != "clear" {
		t.Fatalf("Expected clear, got %v", msg["event"])
	}
	deadline := time.Now().Add(2 * time.Second)
	for rs.pendingMarks() != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if n := rs.pendingMarks(); n != 0 {
		t.Errorf("Expected mark queue cleared, got %d", n)
	}
}

func TestCallSession_FunctionCallRoundTrip(t *testing.T) {
	dispatcher := &fakeDispatcher{result: map[string]any{"ok": true, "answer": 42}}
	rs := startSession(t, testConfig("server_vad"), dispatcher)

	rs.model.deliver(t, map[string]any{
		"type":      realtime.TypeFunctionCallArgumentsDone,
		"name":      "update_intake_state",
		"call_id":   "call_7",
		"arguments": `{"patient_name":"Ada"}`,
	})

	output := rs.model.next(t)
	if output["type"] != realtime.TypeConversationItemCreate {
		t.Fatalf("Expected %s, got %v", realtime.TypeConversationItemCreate, output["type"])
	}
	item := output["item"].(map[string]any)
	if item["type"] != "function_call_output" {
		t.Errorf("Expected function_call_output, got %v", item["type"])
	}
	if item["call_id"] != "call_7" {
		t.Errorf("Expected call_id call_7, got %v", item["call_id"])
	}
	var decoded map[string]any
	if err := json.Unmarshal([]byte(item["output"].(string)), &decoded); err != nil {
		t.Fatalf("Expected JSON output, got %v", err)
	}
	if decoded["ok"] != true || decoded["answer"] != float64(42) {
		t.Errorf("Unexpected output %v", decoded)
	}

	follow := rs.model.next(t)
	if follow["type"] != realtime.TypeResponseCreate {
		t.Errorf("Expected %s, got %v", realtime.TypeResponseCreate, follow["type"])
	}

	dispatcher.mu.Lock()
	defer dispatcher.mu.Unlock()
	if len(dispatcher.calls) != 1 {
		t.Fatalf("Expected 1 dispatch, got %d", len(dispatcher.calls))
	}
	if dispatcher.calls[0].Arguments["patient_name"] != "Ada" {
		t.Errorf("Expected decoded arguments, got %v", dispatcher.calls[0].Arguments)
	}
}

func TestCallSession_ModelCloseEndsCall(t *testing.T) {
	rs := startSession(t, testConfig("server_vad"), nil)

	rs.model.hangup()

	if err := rs.wait(t); err != nil {
		t.Errorf("Expected clean end, got %v", err)
	}
	if reason := rs.session.EndReason(); reason != "model_closed" {
		t.Errorf("Expected end reason model_closed, got %s", reason)
	}
	if !rs.tel.isClosed() {
		t.Error("Expected telephony connection closed")
	}
}

func TestCallSession_TelephonyDisconnectEndsCall(t *testing.T) {
	rs := startSession(t, testConfig("server_vad"), nil)

	rs.tel.hangup()

	if err := rs.wait(t); err != nil {
		t.Errorf("Expected clean end, got %v", err)
	}
	if reason := rs.session.EndReason(); reason != "disconnect" {
		t.Errorf("Expected end reason disconnect, got %s", reason)
	}
	if !rs.model.isClosed() {
		t.Error("Expected model connection closed")
	}
}

func TestCallSession_CancelEndsCall(t *testing.T) {
	rs := startSession(t, testConfig("server_vad"), nil)

	rs.cancel()

	if err := rs.wait(t); err != nil {
		t.Errorf("Expected clean end, got %v", err)
	}
	if reason := rs.session.EndReason(); reason != "shutdown" {
		t.Errorf("Expected end reason shutdown, got %s", reason)
	}
}

func TestCallSession_BenignModelErrorIgnored(t *testing.T) {
	rs := startSession(t, testConfig("server_vad"), nil)

	rs.model.deliver(t, map[string]any{
		"type":  "error",
		"error": map[string]any{"type": "invalid_request_error", "code": realtime.ErrorCodeCommitEmpty},
	})
	rs.model.deliver(t, map[string]any{"type": "error", "error": map[string]any{"message": "boom"}})
	rs.model.expectNoWrite(t)

	if rs.session.EndReason() != "" {
		t.Errorf("Expected call still running, got end reason %s", rs.session.EndReason())
	}
}

func TestBridge_ServeDialFailureClosesTelephony(t *testing.T) {
	dialErr := errors.New("upstream down")
	bridge := NewBridge(testConfig("server_vad"), DialerFunc(func(ctx context.Context) (Conn, error) {
		return nil, dialErr
	}), &fakeDispatcher{}, nil, NewTracker())

	tel := newFakeConn()
	err := bridge.Serve(context.Background(), tel)
	if !errors.Is(err, dialErr) {
		t.Errorf("Expected dial error, got %v", err)
	}
	if !tel.isClosed() {
		t.Error("Expected telephony connection closed")
	}
}

func TestBridge_ServeInitializesAndTracksCall(t *testing.T) {
	model := newFakeConn()
	tracker := NewTracker()
	tools := []realtime.Tool{{Type: "function", Name: "noop"}}
	bridge := NewBridge(testConfig("server_vad"), DialerFunc(func(ctx context.Context) (Conn, error) {
		return model, nil
	}), &fakeDispatcher{}, tools, tracker)

	tel := newFakeConn()
	done := make(chan error, 1)
	go func() { done <- bridge.Serve(context.Background(), tel) }()

	for _, want := range []string{
		realtime.TypeSessionUpdate,
		realtime.TypeConversationItemCreate,
		realtime.TypeResponseCreate,
	} {
		msg := model.next(t)
		if msg["type"] != want {
			t.Errorf("Expected %s, got %v", want, msg["type"])
		}
	}

	if n := tracker.Count(); n != 1 {
		t.Errorf("Expected 1 tracked call, got %d", n)
	}

	tel.hangup()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Expected clean end, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for Serve")
	}

	if n := tracker.Count(); n != 0 {
		t.Errorf("Expected no tracked calls, got %d", n)
	}
	if !model.isClosed() {
		t.Error("Expected model connection closed")
	}
}

func TestBridge_CancelAllEndsCalls(t *testing.T) {
	tracker := NewTracker()
	bridge := NewBridge(testConfig("server_vad"), DialerFunc(func(ctx context.Context) (Conn, error) {
		return newFakeConn(), nil
	}), &fakeDispatcher{}, nil, tracker)

	tel := newFakeConn()
	done := make(chan error, 1)
	go func() { done <- bridge.Serve(context.Background(), tel) }()

	deadline := time.Now().Add(2 * time.Second)
	for tracker.Count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if n := tracker.CancelAll(); n != 1 {
		t.Fatalf("Expected 1 cancelled call, got %d", n)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if !tracker.Wait(ctx) {
		t.Fatal("Expected tracker to drain")
	}
	if err := <-done; err != nil {
		t.Errorf("Expected clean end, got %v", err)
	}
	if !tel.isClosed() {
		t.Error("Expected telephony connection closed")
	}
}

func TestIsDisconnect(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{io.EOF, true},
		{io.ErrUnexpectedEOF, true},
		{net.ErrClosed, true},
		{errors.New("boom"), false},
	}
	for _, tt := range tests {
		if got := isDisconnect(tt.err); got != tt.want {
			t.Errorf("isDisconnect(%v): expected %v, got %v", tt.err, tt.want, got)
		}
	}
}
