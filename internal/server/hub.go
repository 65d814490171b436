package server

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/zeusync/blobarena/internal/core/authority"
	"github.com/zeusync/blobarena/internal/core/observability/log"
	"github.com/zeusync/blobarena/internal/core/protocol"
)

var _ authority.Outbox = (*Hub)(nil)

// Hub tracks live sessions and frames outbound messages in each session's
// codec. A broadcast encodes once per codec in use.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	framers  map[protocol.CodecID]*protocol.Framer
	log      log.Log

	sent    atomic.Uint64
	dropped atomic.Uint64
}

// NewHub panics if a built-in codec has no framer.
func NewHub(compressAbove int, logger log.Log) *Hub {
	framers, err := newFramers(compressAbove, protocol.CodecJSON, protocol.CodecMsgpack)
	if err != nil {
		panic(err)
	}
	return &Hub{
		sessions: make(map[string]*Session),
		framers:  framers,
		log:      logger.With(log.String("component", "hub")),
	}
}

func newFramers(compressAbove int, codecs ...protocol.CodecID) (map[protocol.CodecID]*protocol.Framer, error) {
	framers := make(map[protocol.CodecID]*protocol.Framer, len(codecs))
	for _, id := range codecs {
		f, err := protocol.NewFramer(id, compressAbove)
		if err != nil {
			return nil, errors.Wrapf(err, "framer for codec %d", id)
		}
		framers[id] = f
	}
	return framers, nil
}

func (h *Hub) add(s *Session) {
	h.mu.Lock()
	h.sessions[s.id] = s
	n := len(h.sessions)
	h.mu.Unlock()
	h.log.Info("Client connected", log.String("session_id", s.id), log.Int("total_clients", n))
}

func (h *Hub) remove(id string) {
	h.mu.Lock()
	delete(h.sessions, id)
	n := len(h.sessions)
	h.mu.Unlock()
	h.log.Info("Client disconnected", log.String("session_id", id), log.Int("total_clients", n))
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

func (h *Hub) snapshot() []*Session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		out = append(out, s)
	}
	return out
}

func (h *Hub) encode(codec protocol.CodecID, msg protocol.Message) ([]byte, bool) {
	f, ok := h.framers[codec]
	if !ok {
		f = h.framers[protocol.CodecJSON]
	}
	frame, err := f.Encode(msg)
	if err != nil {
		h.log.Error("Failed to encode message", log.String("type", msg.Type().String()), log.Error(err))
		return nil, false
	}
	return frame, true
}

// Send queues msg for one session. Unknown sessions are ignored.
func (h *Hub) Send(session string, msg protocol.Message) {
	h.mu.RLock()
	s, ok := h.sessions[session]
	h.mu.RUnlock()
	if !ok {
		return
	}
	if frame, ok := h.encode(s.Codec(), msg); ok {
		h.deliver(s, frame)
	}
}

// Broadcast queues msg for every session not listed in except.
func (h *Hub) Broadcast(msg protocol.Message, except ...string) {
	frames := make(map[protocol.CodecID][]byte, 2)
	for _, s := range h.snapshot() {
		if contains(except, s.id) {
			continue
		}
		codec := s.Codec()
		frame, ok := frames[codec]
		if !ok {
			if frame, ok = h.encode(codec, msg); !ok {
				return
			}
			frames[codec] = frame
		}
		h.deliver(s, frame)
	}
}

func (h *Hub) deliver(s *Session, frame []byte) {
	if s.enqueue(frame) {
		h.sent.Add(1)
	} else {
		h.dropped.Add(1)
	}
}

// CloseAll closes every session, used on shutdown.
func (h *Hub) CloseAll() {
	for _, s := range h.snapshot() {
		_ = s.Close()
	}
}

func contains(ids []string, id string) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}
