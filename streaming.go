package datavet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Validation lifecycle event types.
const (
	EventRunStarted   = "run_started"
	EventAnomaly      = "anomaly"
	EventRunCompleted = "run_completed"
)

// StreamConfig configures validation event streaming.
type StreamConfig struct {
	// Enabled turns on lifecycle event fan-out
	Enabled bool `yaml:"enabled"`
	// BufferSize is the channel buffer size per subscription
	BufferSize int `yaml:"buffer_size"`
	// PingInterval is how often to ping WebSocket clients
	PingInterval time.Duration `yaml:"ping_interval"`
	// WriteTimeout for WebSocket writes
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// DefaultStreamConfig returns default streaming configuration.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		Enabled:      true,
		BufferSize:   64,
		PingInterval: 30 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// StreamEvent is one validation lifecycle event. A run emits run_started,
// then one anomaly event per finding, then run_completed with the totals.
type StreamEvent struct {
	Type          string    `json:"type"`
	RunID         string    `json:"run_id"`
	Environment   string    `json:"environment,omitempty"`
	SchemaVersion int       `json:"schema_version,omitempty"`
	Anomaly       *Anomaly  `json:"anomaly,omitempty"`
	Errors        int       `json:"errors,omitempty"`
	Warnings      int       `json:"warnings,omitempty"`
	Clean         bool      `json:"clean,omitempty"`
	Time          time.Time `json:"time"`
}

// Subscription represents an active stream subscription.
type Subscription struct {
	ID          string
	Environment string
	Feature     string
	ch          chan StreamEvent
	done        chan struct{}
	closed      bool
	mu          sync.Mutex
	created     time.Time
}

// C returns the channel for receiving events.
func (s *Subscription) C() <-chan StreamEvent {
	return s.ch
}

// Close closes the subscription.
func (s *Subscription) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
	close(s.ch)
}

// send delivers an event unless the subscription is closed or its buffer
// is full.
func (s *Subscription) send(ev StreamEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- ev:
	default:
		// Buffer full, drop the event
	}
}

// StreamHub fans validation lifecycle events out to subscribers. A
// subscriber that falls behind its buffer loses events rather than
// blocking the publisher.
type StreamHub struct {
	config StreamConfig
	mu     sync.RWMutex
	subs   map[string]*Subscription
	nextID uint64
}

// NewStreamHub creates a new streaming hub.
func NewStreamHub(cfg StreamConfig) *StreamHub {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 64
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	return &StreamHub{
		config: cfg,
		subs:   make(map[string]*Subscription),
	}
}

// Subscribe creates a subscription. An empty environment matches every
// run; an empty feature matches every anomaly. Run lifecycle events are
// always delivered regardless of the feature filter.
func (h *StreamHub) Subscribe(environment, feature string) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	id := fmt.Sprintf("sub-%d", h.nextID)

	sub := &Subscription{
		ID:          id,
		Environment: environment,
		Feature:     feature,
		ch:          make(chan StreamEvent, h.config.BufferSize),
		done:        make(chan struct{}),
		created:     time.Now(),
	}

	h.subs[id] = sub
	return sub
}

// Unsubscribe removes a subscription.
func (h *StreamHub) Unsubscribe(id string) {
	h.mu.Lock()
	sub, ok := h.subs[id]
	if ok {
		delete(h.subs, id)
	}
	h.mu.Unlock()

	if ok {
		sub.Close()
	}
}

// Publish sends an event to all matching subscriptions.
func (h *StreamHub) Publish(ev StreamEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subs {
		if !h.matches(sub, ev) {
			continue
		}
		sub.send(ev)
	}
}

// PublishReport emits the anomaly events and the run_completed event for
// a finished run. The caller emits run_started before validating.
func (h *StreamHub) PublishReport(runID string, schemaVersion int, report *Report) {
	if report == nil {
		return
	}
	now := time.Now()
	for i := range report.Anomalies {
		a := report.Anomalies[i]
		h.Publish(StreamEvent{
			Type:          EventAnomaly,
			RunID:         runID,
			Environment:   report.Environment,
			SchemaVersion: schemaVersion,
			Anomaly:       &a,
			Time:          now,
		})
	}
	errs, warns := report.Counts()
	h.Publish(StreamEvent{
		Type:          EventRunCompleted,
		RunID:         runID,
		Environment:   report.Environment,
		SchemaVersion: schemaVersion,
		Errors:        errs,
		Warnings:      warns,
		Clean:         report.Clean(),
		Time:          now,
	})
}

// matches checks if an event matches a subscription filter.
func (h *StreamHub) matches(sub *Subscription, ev StreamEvent) bool {
	if sub.Environment != "" && sub.Environment != ev.Environment {
		return false
	}
	if sub.Feature != "" && ev.Type == EventAnomaly {
		if ev.Anomaly == nil || ev.Anomaly.Feature != sub.Feature {
			return false
		}
	}
	return true
}

// Count returns the number of active subscriptions.
func (h *StreamHub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// List returns all active subscription IDs.
func (h *StreamHub) List() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.subs))
	for id := range h.subs {
		ids = append(ids, id)
	}
	return ids
}

// Close drops every active subscription.
func (h *StreamHub) Close() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[string]*Subscription)
	h.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
}

// WebSocket handling

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// StreamMessage is the JSON format for WebSocket commands and replies.
type StreamMessage struct {
	Type        string       `json:"type"`
	Environment string       `json:"environment,omitempty"`
	Feature     string       `json:"feature,omitempty"`
	Event       *StreamEvent `json:"event,omitempty"`
	SubID       string       `json:"sub_id,omitempty"`
	Error       string       `json:"error,omitempty"`
}

// WebSocketHandler returns an HTTP handler for WebSocket connections.
// Clients send {"type":"subscribe","environment":...,"feature":...} and
// receive {"type":"event","sub_id":...,"event":{...}} frames.
func (h *StreamHub) WebSocketHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer func() { _ = conn.Close() }()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// The connection allows one writer at a time, so every frame
		// goes through this helper.
		var writeMu sync.Mutex
		write := func(m StreamMessage) error {
			msg, err := json.Marshal(m)
			if err != nil {
				return err
			}
			writeMu.Lock()
			defer writeMu.Unlock()
			_ = conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			return conn.WriteMessage(websocket.TextMessage, msg)
		}

		// Map of active subscriptions for this connection
		connSubs := make(map[string]*Subscription)
		var connMu sync.Mutex

		// Keep the connection alive
		go func() {
			ticker := time.NewTicker(h.config.PingInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					deadline := time.Now().Add(h.config.WriteTimeout)
					if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Read commands from client
		go func() {
			defer cancel()
			for {
				_, msg, err := conn.ReadMessage()
				if err != nil {
					return
				}

				var cmd StreamMessage
				if err := json.Unmarshal(msg, &cmd); err != nil {
					_ = write(StreamMessage{Type: "error", Error: "invalid message format"})
					continue
				}

				switch cmd.Type {
				case "subscribe":
					sub := h.Subscribe(cmd.Environment, cmd.Feature)
					connMu.Lock()
					connSubs[sub.ID] = sub
					connMu.Unlock()

					_ = write(StreamMessage{Type: "subscribed", SubID: sub.ID})

					// Start forwarding events for this subscription
					go h.forwardEvents(ctx, sub, write)

				case "unsubscribe":
					connMu.Lock()
					if sub, ok := connSubs[cmd.SubID]; ok {
						delete(connSubs, cmd.SubID)
						h.Unsubscribe(sub.ID)
					}
					connMu.Unlock()

					_ = write(StreamMessage{Type: "unsubscribed", SubID: cmd.SubID})

				default:
					_ = write(StreamMessage{Type: "error", Error: "unknown command: " + cmd.Type})
				}
			}
		}()

		// Wait for context cancellation
		<-ctx.Done()

		// Cleanup subscriptions
		connMu.Lock()
		for _, sub := range connSubs {
			h.Unsubscribe(sub.ID)
		}
		connMu.Unlock()
	}
}

func (h *StreamHub) forwardEvents(ctx context.Context, sub *Subscription, write func(StreamMessage) error) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.done:
			return
		case ev, ok := <-sub.ch:
			if !ok {
				return
			}
			if err := write(StreamMessage{Type: "event", SubID: sub.ID, Event: &ev}); err != nil {
				return
			}
		}
	}
}

// ErrStreamingDisabled is returned when streaming operations are
// attempted while streaming is off.
var ErrStreamingDisabled = errors.New("streaming not enabled")
