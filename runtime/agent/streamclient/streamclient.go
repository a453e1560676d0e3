// Package streamclient maintains a reconnecting WebSocket link to one
// sandbox's event stream, validating and republishing every inbound frame
// onto the control plane's bus.
package streamclient

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/opsagents/controlplane/runtime/agent/bus"
	"github.com/opsagents/controlplane/runtime/agent/event"
	"github.com/opsagents/controlplane/runtime/agent/telemetry"
	"github.com/opsagents/controlplane/runtime/agent/validator"
)

// Defaults for the reconnect backoff.
const (
	DefaultInitialReconnectDelay = 500 * time.Millisecond
	DefaultMaxReconnectDelay     = 30 * time.Second
)

// Config configures one Client.
type Config struct {
	URL     string
	AgentID string

	InitialReconnectDelay time.Duration
	MaxReconnectDelay     time.Duration

	// OnDisconnect, if set, is invoked every time the socket closes,
	// before a reconnect is scheduled.
	OnDisconnect func()

	Bus        *bus.Bus
	Validator  *validator.Validator
	Quarantine *validator.Quarantine
	Logger     telemetry.Logger
	Dialer     *websocket.Dialer
}

// Client is a reconnecting link to one sandbox's event WebSocket.
type Client struct {
	cfg Config

	mu             sync.Mutex
	conn           *websocket.Conn
	closed         bool
	attempts       int
	reconnectTimer *time.Timer
}

// New constructs a Client. Call Connect to open the link.
func New(cfg Config) *Client {
	if cfg.InitialReconnectDelay <= 0 {
		cfg.InitialReconnectDelay = DefaultInitialReconnectDelay
	}
	if cfg.MaxReconnectDelay <= 0 {
		cfg.MaxReconnectDelay = DefaultMaxReconnectDelay
	}
	if cfg.Logger == nil {
		cfg.Logger = telemetry.NewNoopLogger()
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	return &Client{cfg: cfg}
}

// Connect opens the WebSocket and starts the read loop. It is a no-op if
// the client has already been closed.
func (c *Client) Connect() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	conn, _, err := c.cfg.Dialer.Dial(c.cfg.URL, nil)
	if err != nil {
		c.scheduleReconnect()
		return fmt.Errorf("streamclient: dial %s: %w", c.cfg.URL, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.attempts = 0
	c.mu.Unlock()

	go c.readLoop(conn)
	return nil
}

// Close closes the link for good: no further reconnects are scheduled.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
	}
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			c.onClose()
			return
		}
		c.handleMessage(raw)
	}
}

func (c *Client) onClose() {
	if c.cfg.OnDisconnect != nil {
		c.cfg.OnDisconnect()
	}
	c.scheduleReconnect()
}

// scheduleReconnect computes delay = min(maxDelay, initialDelay *
// 2^(attempts-1)) with attempts incremented first, and arranges a single
// future Connect call. No-op if the client has been closed.
func (c *Client) scheduleReconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.attempts++
	delay := c.cfg.InitialReconnectDelay * time.Duration(1<<uint(c.attempts-1))
	if delay > c.cfg.MaxReconnectDelay || delay <= 0 {
		delay = c.cfg.MaxReconnectDelay
	}
	c.reconnectTimer = time.AfterFunc(delay, func() {
		_ = c.Connect()
	})
}

// handleMessage implements the "on message" steps: non-JSON frames,
// schema-invalid frames (quarantined), agent id mismatches (dropped
// silently with a warning), and otherwise publication onto the bus.
func (c *Client) handleMessage(raw []byte) {
	ctx := context.Background()

	var probe any
	if err := json.Unmarshal(raw, &probe); err != nil {
		c.publishSynthetic(ctx, "non-JSON frame on event stream: "+err.Error())
		return
	}

	ev, err := c.cfg.Validator.ValidateAdapterEvent(raw)
	if err != nil {
		c.cfg.Quarantine.QuarantineEvent(raw, err)
		var issues string
		if ve, ok := err.(*validator.ValidationError); ok {
			issues = strings.Join(ve.Issues, "; ")
		} else {
			issues = err.Error()
		}
		c.publishSynthetic(ctx, "Malformed adapter event quarantined: "+issues)
		return
	}

	if ev.AgentID != c.cfg.AgentID {
		c.cfg.Logger.Warn(ctx, "dropping event with mismatched agent id",
			"expected", c.cfg.AgentID, "got", ev.AgentID)
		return
	}

	envelope := event.EventEnvelope{AdapterEvent: ev, IngestedAt: time.Now()}
	c.cfg.Bus.Publish(ctx, envelope)
}

// publishSynthetic emits a synthetic warning error envelope attributable to
// this client's configured agent id, for the quarantine and non-JSON-frame
// cases above.
func (c *Client) publishSynthetic(ctx context.Context, message string) {
	envelope := event.EventEnvelope{
		AdapterEvent: event.AdapterEvent{
			SourceEventID:    event.SyntheticQuarantinePrefix + uuid.NewString(),
			SourceSequence:   event.SyntheticSourceSequence,
			SourceOccurredAt: time.Now(),
			RunID:            event.SyntheticQuarantinePrefix + c.cfg.AgentID,
			AgentID:          c.cfg.AgentID,
			Event: event.ErrorEvent{
				Severity:    event.SeverityWarning,
				Recoverable: true,
				Category:    "internal",
				Message:     message,
			},
		},
		IngestedAt: time.Now(),
	}
	c.cfg.Bus.Publish(ctx, envelope)
}
