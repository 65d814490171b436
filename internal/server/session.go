package server

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/zeusync/blobarena/internal/core/observability/log"
	"github.com/zeusync/blobarena/internal/core/protocol"
	"github.com/zeusync/blobarena/internal/core/protocol/transport"
)

// Session is one connected client. A reader goroutine decodes inbound frames;
// a writer goroutine drains queue.
type Session struct {
	id          string
	conn        transport.Conn
	queue       chan []byte
	limiter     *rate.Limiter
	codec       atomic.Uint32
	codecLocked atomic.Bool
	lastSeen    atomic.Int64
	connectedAt time.Time
	log         log.Log

	received atomic.Uint64
	limited  atomic.Uint64

	done      chan struct{}
	closeOnce sync.Once
}

func newSession(conn transport.Conn, codec protocol.CodecID, queue int, limiter *rate.Limiter, logger log.Log) *Session {
	s := &Session{
		id:          conn.ID(),
		conn:        conn,
		queue:       make(chan []byte, queue),
		limiter:     limiter,
		connectedAt: time.Now(),
		done:        make(chan struct{}),
		log:         logger.With(log.String("transport", conn.Kind())),
	}
	s.codec.Store(uint32(codec))
	s.touch()
	return s
}

func (s *Session) ID() string { return s.id }

func (s *Session) Codec() protocol.CodecID { return protocol.CodecID(s.codec.Load()) }

// observeCodec pins the reply codec to the first one the client used.
func (s *Session) observeCodec(c protocol.CodecID) {
	if s.codecLocked.CompareAndSwap(false, true) {
		s.codec.Store(uint32(c))
	}
}

func (s *Session) touch() { s.lastSeen.Store(time.Now().UnixNano()) }

func (s *Session) LastSeen() time.Time { return time.Unix(0, s.lastSeen.Load()) }

// allow reports whether one more inbound frame fits the rate limit.
func (s *Session) allow() bool {
	if s.limiter == nil || s.limiter.Allow() {
		return true
	}
	s.limited.Add(1)
	return false
}

// enqueue never blocks. A full queue means the client cannot keep up, and
// the session is closed.
func (s *Session) enqueue(frame []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.queue <- frame:
		return true
	default:
		s.log.Warn("Send queue full, closing session", log.Int("queue", cap(s.queue)))
		s.closeAsync(ErrSlowConsumer)
		return false
	}
}

func (s *Session) writeLoop() {
	for {
		select {
		case <-s.done:
			return
		case frame := <-s.queue:
			if err := s.conn.WriteFrame(frame); err != nil {
				s.log.Debug("Write failed", log.Error(err))
				s.closeWith(err)
				return
			}
		}
	}
}

func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) Close() error { return s.closeWith(nil) }

func (s *Session) closeWith(reason error) error {
	s.closeOnce.Do(func() {
		if reason != nil {
			s.log.Debug("Closing session", log.Error(reason))
		}
		close(s.done)
		_ = s.conn.Close()
	})
	return nil
}

// closeAsync closes the session from a caller that may hold the authority
// lock. done is closed synchronously so no further frames are queued.
func (s *Session) closeAsync(reason error) {
	s.closeOnce.Do(func() {
		s.log.Debug("Closing session", log.Error(reason))
		close(s.done)
		go func() { _ = s.conn.Close() }()
	})
}
