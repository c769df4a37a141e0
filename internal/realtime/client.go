package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/gorilla/websocket"
	"github.com/lexiqai/voice-intake/internal/config"
	"github.com/lexiqai/voice-intake/internal/observability"
	"github.com/lexiqai/voice-intake/internal/resilience"
	"github.com/rs/zerolog"
)

// ErrModelUnavailable is returned when the model endpoint is failing fast.
var ErrModelUnavailable = errors.New("realtime model unavailable")

// Client dials the realtime model channel.
type Client struct {
	cfg     *config.Config
	dialer  *websocket.Dialer
	breaker *resilience.CircuitBreaker
	logger  zerolog.Logger
}

// NewClient creates a dialer guarded by breaker.
func NewClient(cfg *config.Config, breaker *resilience.CircuitBreaker) *Client {
	return &Client{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.DialTimeoutDuration(),
			ReadBufferSize:   16 * 1024,
			WriteBufferSize:  16 * 1024,
		},
		breaker: breaker,
		logger:  observability.WithComponent("realtime"),
	}
}

// Endpoint returns the dial URL with the model selected.
func (c *Client) Endpoint() (string, error) {
	u, err := url.Parse(c.cfg.RealtimeURL)
	if err != nil {
		return "", fmt.Errorf("invalid realtime url: %w", err)
	}
	q := u.Query()
	q.Set("model", c.cfg.RealtimeModel)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Dial opens one model connection. It is attempted once; a failing
// endpoint trips the breaker and later calls fail with ErrModelUnavailable.
func (c *Client) Dial(ctx context.Context) (*websocket.Conn, error) {
	endpoint, err := c.Endpoint()
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.cfg.OpenAIAPIKey)
	header.Set("OpenAI-Beta", "realtime=v1")

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeoutDuration())
	defer cancel()

	var conn *websocket.Conn
	err = c.breaker.Call(func() error {
		var resp *http.Response
		var dialErr error
		conn, resp, dialErr = c.dialer.DialContext(dialCtx, endpoint, header)
		if dialErr != nil && errors.Is(ctx.Err(), context.Canceled) {
			return fmt.Errorf("%w: %v", context.Canceled, dialErr)
		}
		if dialErr != nil && resp != nil {
			return fmt.Errorf("handshake rejected with status %d: %w", resp.StatusCode, dialErr)
		}
		return dialErr
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dial realtime model: %w", err)
	}

	c.logger.Debug().Str("model", c.cfg.RealtimeModel).Msg("Realtime model connected")
	return conn, nil
}

// Check reports readiness of the model channel from the breaker state.
func (c *Client) Check(ctx context.Context) (bool, error) {
	return c.breaker.Check(ctx)
}
