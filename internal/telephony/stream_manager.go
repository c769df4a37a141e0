package telephony

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lexiqai/voice-intake/internal/config"
	"github.com/lexiqai/voice-intake/internal/intake"
	"github.com/lexiqai/voice-intake/internal/observability"
	"github.com/lexiqai/voice-intake/internal/realtime"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// ErrSessionClosed is returned when writing to a channel that was torn down.
var ErrSessionClosed = errors.New("call session closed")

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Twilio does not send a browser Origin
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// Conn is the subset of *websocket.Conn the bridge uses.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// ModelDialer opens the realtime model channel for one call.
type ModelDialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// DialerFunc adapts a function to ModelDialer.
type DialerFunc func(ctx context.Context) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context) (Conn, error) { return f(ctx) }

// RealtimeDialer adapts the realtime client to ModelDialer.
func RealtimeDialer(client *realtime.Client) ModelDialer {
	return DialerFunc(func(ctx context.Context) (Conn, error) {
		conn, err := client.Dial(ctx)
		if err != nil {
			return nil, err
		}
		return conn, nil
	})
}

// FunctionDispatcher executes model function calls. It must always return
// a JSON-encodable result.
type FunctionDispatcher interface {
	Dispatch(ctx context.Context, state *intake.State, call realtime.FunctionCall) any
}

// channel is one outbound WebSocket leg. Writes are serialized and bounded
// by a deadline because both loops may write to the model leg.
type channel struct {
	name    string
	conn    Conn
	timeout time.Duration

	mu     sync.Mutex
	closed bool
}

func newChannel(name string, conn Conn, timeout time.Duration) *channel {
	return &channel{name: name, conn: conn, timeout: timeout}
}

func (c *channel) send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s message: %w", c.name, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrSessionClosed
	}
	if c.timeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
			return fmt.Errorf("failed to set %s write deadline: %w", c.name, err)
		}
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to write to %s: %w", c.name, err)
	}
	return nil
}

func (c *channel) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	_ = c.conn.Close()
}

// CallSession holds the state of a single bridged phone call
type CallSession struct {
	telephony *channel
	model     *channel

	dispatcher   FunctionDispatcher
	manualCommit bool

	// Guarded by mu
	mu                   sync.Mutex
	streamSid            string
	callSid              string
	customParameters     map[string]string
	latestMediaTimestamp int64
	lastAssistantItem    string
	markQueue            []string
	markSeq              uint64
	responseStart        int64
	hasResponseStart     bool
	appendedSinceCommit  bool
	state                *intake.State
	endReason            string

	// Observability
	correlationID string
	metrics       *observability.Metrics
	logger        zerolog.Logger

	done     chan struct{}
	stopOnce sync.Once
}

// NewCallSession creates a session over two open connections.
func NewCallSession(cfg *config.Config, telephonyConn, modelConn Conn, dispatcher FunctionDispatcher) *CallSession {
	correlationID := observability.NewCorrelationID()
	return &CallSession{
		telephony:     newChannel("telephony", telephonyConn, cfg.WriteTimeoutDuration()),
		model:         newChannel("model", modelConn, cfg.WriteTimeoutDuration()),
		dispatcher:    dispatcher,
		manualCommit:  cfg.ManualCommit(),
		state:         intake.NewState(),
		correlationID: correlationID,
		metrics:       observability.NewCallMetrics(correlationID),
		logger:        observability.WithCorrelationID(correlationID),
		done:          make(chan struct{}),
	}
}

// Run drives both relay loops until the call ends. The first loop to
// finish, or ctx being cancelled, closes both connections so the other
// loop unblocks.
func (s *CallSession) Run(ctx context.Context) error {
	s.metrics.RecordCallStart()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer s.stop()
		return s.receiveTelephony(gctx)
	})
	g.Go(func() error {
		defer s.stop()
		return s.receiveModel(gctx)
	})
	g.Go(func() error {
		select {
		case <-ctx.Done():
			s.setEndReason("shutdown")
			s.stop()
		case <-s.done:
		}
		return nil
	})

	err := g.Wait()
	if err != nil {
		s.setEndReason("error")
	}
	s.metrics.RecordCallEnd(s.EndReason())
	return err
}

// Initialize sends the session configuration and greeting to the model.
func (s *CallSession) Initialize(messages []any) error {
	for _, msg := range messages {
		if err := s.model.send(msg); err != nil {
			return fmt.Errorf("failed to initialize model session: %w", err)
		}
	}
	return nil
}

func (s *CallSession) stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		s.telephony.close()
		s.model.close()
	})
}

func (s *CallSession) stopped() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// setEndReason keeps the first reason recorded.
func (s *CallSession) setEndReason(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.endReason == "" {
		s.endReason = reason
	}
}

// EndReason reports why the call ended, empty while it is running.
func (s *CallSession) EndReason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endReason
}

// IntakeState returns the record of the current stream.
func (s *CallSession) IntakeState() *intake.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// StreamSid returns the bound stream id.
func (s *CallSession) StreamSid() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamSid
}

// log returns the call logger, which gains stream fields on start.
func (s *CallSession) log() *zerolog.Logger {
	s.mu.Lock()
	l := s.logger
	s.mu.Unlock()
	return &l
}

// CorrelationID returns the id attached to every log line of this call.
func (s *CallSession) CorrelationID() string {
	return s.correlationID
}

// isDisconnect reports whether err is a normal end of a WebSocket peer.
func isDisconnect(err error) bool {
	var closeErr *websocket.CloseError
	return errors.As(err, &closeErr) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed)
}

// Bridge upgrades Twilio media streams and connects each to the model.
type Bridge struct {
	cfg        *config.Config
	dialer     ModelDialer
	dispatcher FunctionDispatcher
	tools      []realtime.Tool
	tracker    *Tracker
	logger     zerolog.Logger
}

// NewBridge creates the media stream handler.
func NewBridge(cfg *config.Config, dialer ModelDialer, dispatcher FunctionDispatcher, tools []realtime.Tool, tracker *Tracker) *Bridge {
	return &Bridge{
		cfg:        cfg,
		dialer:     dialer,
		dispatcher: dispatcher,
		tools:      tools,
		tracker:    tracker,
		logger:     observability.WithComponent("telephony"),
	}
}

// HandleMediaStream is the entry point for Twilio WebSocket connections
func (b *Bridge) HandleMediaStream() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade already wrote the HTTP error
			b.logger.Warn().Err(err).Msg("Failed to upgrade connection to WebSocket")
			return
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		if err := b.Serve(ctx, conn); err != nil {
			b.logger.Error().Err(err).Msg("Call session error")
		}
	}
}

// Serve bridges one accepted telephony connection until the call ends.
// The telephony connection is always closed on return.
func (b *Bridge) Serve(ctx context.Context, telephonyConn Conn) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	modelConn, err := b.dialer.Dial(ctx)
	if err != nil {
		_ = telephonyConn.Close()
		observability.RecordError("dial_failed", "realtime")
		return fmt.Errorf("failed to connect call to model: %w", err)
	}

	session := NewCallSession(b.cfg, telephonyConn, modelConn, b.dispatcher)
	unregister := b.tracker.Register(session.CorrelationID(), cancel)
	defer unregister()

	logger := session.logger
	logger.Info().Msg("New media stream bridged")

	if err := session.Initialize(realtime.InitialMessages(b.cfg, b.tools)); err != nil {
		session.stop()
		session.metrics.RecordError("init_failed", "realtime")
		return err
	}

	err = session.Run(ctx)
	session.log().Info().
		Str("stream_sid", session.StreamSid()).
		Str("reason", session.EndReason()).
		Msg("Call session ended")
	return err
}
