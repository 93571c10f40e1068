// Package events broadcasts session status transitions to websocket
// subscribers.
//
// The pipeline publishes an [Event] on every status change it makes. Clients
// connect to the [Hub] handler (mounted at /v1/events) and receive events as
// JSON text frames, optionally filtered by organization with ?org={uuid}.
// Publishing never blocks: a subscriber whose buffer is full misses events.
package events

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/MrWong99/meetscribe/pkg/session"
)

// Event is one status transition.
type Event struct {
	SessionID      uuid.UUID      `json:"session_id"`
	OrganizationID uuid.UUID      `json:"organization_id"`
	Status         session.Status `json:"status"`
	At             time.Time      `json:"at"`
}

// Publisher accepts events. [Hub] implements it; a nil-safe no-op is
// [Discard].
type Publisher interface {
	Publish(ev Event)
}

type discard struct{}

func (discard) Publish(Event) {}

// Discard drops every event.
var Discard Publisher = discard{}

// DefaultBuffer is the per-subscriber event buffer.
const DefaultBuffer = 64

// writeTimeout bounds a single frame write to a slow client.
const writeTimeout = 10 * time.Second

type subscriber struct {
	org uuid.UUID // uuid.Nil receives all organizations
	ch  chan Event
}

// Hub fans events out to subscribers. It is safe for concurrent use.
type Hub struct {
	mu      sync.RWMutex
	subs    map[*subscriber]struct{}
	buffer  int
	dropped atomic.Int64
}

// NewHub creates a Hub with the given per-subscriber buffer. A non-positive
// buffer uses [DefaultBuffer].
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub{subs: make(map[*subscriber]struct{}), buffer: buffer}
}

// Publish delivers ev to every matching subscriber without blocking.
func (h *Hub) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs {
		if s.org != uuid.Nil && s.org != ev.OrganizationID {
			continue
		}
		select {
		case s.ch <- ev:
		default:
			h.dropped.Add(1)
		}
	}
}

// Subscribe registers a subscriber for org (uuid.Nil for all). The returned
// cancel func unregisters it and closes the channel.
func (h *Hub) Subscribe(org uuid.UUID) (<-chan Event, func()) {
	s := &subscriber{org: org, ch: make(chan Event, h.buffer)}
	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, s)
			h.mu.Unlock()
			close(s.ch)
		})
	}
}

// Subscribers returns the number of active subscribers.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped returns how many deliveries were skipped because a subscriber's
// buffer was full.
func (h *Hub) Dropped() int64 { return h.dropped.Load() }

// ServeHTTP upgrades the request to a websocket and streams events until the
// client disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var org uuid.UUID
	if v := r.URL.Query().Get("org"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			http.Error(w, "invalid org", http.StatusBadRequest)
			return
		}
		org = id
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Warn("events: websocket accept failed", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	// Clients never send; CloseRead handles control frames and cancels ctx
	// when the peer goes away.
	ctx := conn.CloseRead(r.Context())

	ch, cancel := h.Subscribe(org)
	defer cancel()
	slog.Debug("events: subscriber connected", "remote", r.RemoteAddr, "org", org)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := h.write(ctx, conn, ev); err != nil {
				slog.Debug("events: write failed", "remote", r.RemoteAddr, "err", err)
				return
			}
		}
	}
}

func (h *Hub) write(ctx context.Context, conn *websocket.Conn, ev Event) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, ev)
}
