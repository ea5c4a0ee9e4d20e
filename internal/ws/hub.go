package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/Anomyking/RP/internal/domain"
	"github.com/Anomyking/RP/internal/repo"
)

// Frame is the wire envelope for server<->client messages.
type Frame struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

const (
	FrameConnectionStatus = "connectionStatus"
	FrameNotification     = "notification"
	FrameAck              = "ack"
	FrameDisconnect       = "disconnect"
)

// ErrDeliveryFailed indicates every live handle rejected the push; the
// record stays undelivered for reconnect catch-up.
var ErrDeliveryFailed = errors.New("delivery failed")

// Sender writes one frame to a live connection. Implementations must
// be safe for concurrent use.
type Sender interface {
	Send(Frame) error
}

// Peer wraps a connection's writer behind a mutex so concurrent pushes
// interleave whole frames. When the writer is also a closer (a live
// websocket conn is), Close tears the connection down, which lets the
// hub disconnect every live peer at shutdown.
type Peer struct {
	mu     sync.Mutex
	enc    *json.Encoder
	closer io.Closer
}

func NewPeer(w io.Writer) *Peer {
	p := &Peer{enc: json.NewEncoder(w)}
	if c, ok := w.(io.Closer); ok {
		p.closer = c
	}
	return p
}

func (p *Peer) Send(f Frame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enc.Encode(f)
}

func (p *Peer) Close() error {
	if p.closer == nil {
		return nil
	}
	return p.closer.Close()
}

// Hub is the process-scoped live-connection map, keyed by principal.
// A principal may hold several concurrent handles (multi-device); the
// entry disappears when the last handle disconnects.
type Hub struct {
	Repo repo.Repo
	Now  func() time.Time

	mu    sync.Mutex
	conns map[string][]Sender
}

func NewHub(r repo.Repo) *Hub {
	return &Hub{
		Repo:  r,
		Now:   time.Now,
		conns: make(map[string][]Sender),
	}
}

func (h *Hub) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

// Connect registers a handle, confirms the connection to the client,
// and synchronously drains the principal's undelivered records in
// creation order, marking each delivered as the transport accepts it.
func (h *Hub) Connect(ctx context.Context, principalID string, s Sender) error {
	h.mu.Lock()
	h.conns[principalID] = append(h.conns[principalID], s)
	h.mu.Unlock()

	if err := s.Send(Frame{Type: FrameConnectionStatus, Payload: map[string]bool{"connected": true}}); err != nil {
		h.Disconnect(principalID, s)
		return err
	}

	pending, err := h.Repo.ListUndelivered(ctx, principalID)
	if err != nil {
		return fmt.Errorf("list undelivered for %s: %w", principalID, err)
	}
	for _, rec := range pending {
		if err := s.Send(Frame{Type: FrameNotification, Payload: rec}); err != nil {
			// The rest stays undelivered; the next connect resumes
			// from here in the same order.
			return err
		}
		ts := h.now().UTC().Format(time.RFC3339)
		if err := h.Repo.MarkDelivered(ctx, rec.ID, ts); err != nil {
			return fmt.Errorf("mark delivered %s: %w", rec.ID, err)
		}
	}
	return nil
}

// Disconnect removes one handle; the principal's entry is dropped when
// no handles remain.
func (h *Hub) Disconnect(principalID string, s Sender) {
	h.mu.Lock()
	defer h.mu.Unlock()
	handles := h.conns[principalID]
	for i, handle := range handles {
		if handle == s {
			handles = append(handles[:i], handles[i+1:]...)
			break
		}
	}
	if len(handles) == 0 {
		delete(h.conns, principalID)
		return
	}
	h.conns[principalID] = handles
}

// Connected reports whether the principal has at least one live handle.
func (h *Hub) Connected(principalID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns[principalID]) > 0
}

// Push sends the record to every live handle of its recipient. The
// record is marked delivered only after at least one transport write
// succeeds; with no live handle it simply stays undelivered.
func (h *Hub) Push(rec domain.Notification) (bool, error) {
	h.mu.Lock()
	handles := append([]Sender(nil), h.conns[rec.RecipientID]...)
	h.mu.Unlock()
	if len(handles) == 0 {
		return false, nil
	}
	accepted := false
	for _, handle := range handles {
		if err := handle.Send(Frame{Type: FrameNotification, Payload: rec}); err != nil {
			log.Printf("ws: push %s to %s handle failed: %v", rec.ID, rec.RecipientID, err)
			continue
		}
		accepted = true
	}
	if !accepted {
		return false, fmt.Errorf("%w: record %s", ErrDeliveryFailed, rec.ID)
	}
	ts := h.now().UTC().Format(time.RFC3339)
	if err := h.Repo.MarkDelivered(context.Background(), rec.ID, ts); err != nil {
		return true, fmt.Errorf("mark delivered %s: %w", rec.ID, err)
	}
	return true, nil
}

// Shutdown closes every handle that supports closing and clears the
// map. Called once at process teardown.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for principalID, handles := range h.conns {
		for _, handle := range handles {
			if closer, ok := handle.(io.Closer); ok {
				_ = closer.Close()
			}
		}
		delete(h.conns, principalID)
	}
}
