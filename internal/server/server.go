// Package server hosts the central authority behind WebSocket and QUIC
// endpoints.
package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/zeusync/blobarena/internal/config"
	"github.com/zeusync/blobarena/internal/core/authority"
	"github.com/zeusync/blobarena/internal/core/broadcast"
	"github.com/zeusync/blobarena/internal/core/observability/log"
	"github.com/zeusync/blobarena/internal/core/protocol"
	"github.com/zeusync/blobarena/internal/core/protocol/transport"
)

// Authority is what the server needs from the central coordinator.
type Authority interface {
	authority.Coordinator
	Connect(session string)
	BroadcastWorld() bool
	Stats() authority.Stats
}

type Server struct {
	cfg       config.Server
	authority Authority
	hub       *Hub
	scheduler *broadcast.Scheduler
	upgrader  *transport.Upgrader
	transport transport.Options
	log       log.Log

	startedAt time.Time
	running   atomic.Bool
	addr      atomic.Value // net.Addr
	malformed atomic.Uint64
}

func New(cfg *config.Config, auth Authority, hub *Hub, scheduler *broadcast.Scheduler, logger log.Log) *Server {
	opts := transport.Options{
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		MaxFrameSize: cfg.Server.MaxFrameSize,
	}
	s := &Server{
		cfg:       cfg.Server,
		authority: auth,
		hub:       hub,
		scheduler: scheduler,
		upgrader:  transport.NewUpgrader(opts),
		transport: opts,
		log:       logger.With(log.String("component", "server")),
		startedAt: time.Now(),
	}

	scheduler.Every("world", broadcast.Interval(cfg.Server.WorldRate), func(context.Context) (bool, error) {
		return auth.BroadcastWorld(), nil
	})
	scheduler.Every("upkeep", cfg.Server.UpkeepInterval, func(ctx context.Context) (bool, error) {
		return true, auth.Upkeep(ctx)
	})
	if cfg.Server.PlayerTimeout > 0 {
		scheduler.Every("health", cfg.Server.PlayerTimeout/2, func(context.Context) (bool, error) {
			return s.checkHealth() > 0, nil
		})
	}
	return s
}

// Handler serves /ws and /healthz.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/healthz", s.handleHealth)
	return mux
}

// Addr is the bound HTTP address once Run is listening.
func (s *Server) Addr() net.Addr {
	if a, ok := s.addr.Load().(net.Addr); ok {
		return a
	}
	return nil
}

// Run serves until ctx is cancelled, then shuts every component down.
func (s *Server) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrServerClosed
	}

	ln, err := net.Listen("tcp", s.cfg.HTTPAddr)
	if err != nil {
		return errors.Wrapf(err, "listen %s", s.cfg.HTTPAddr)
	}
	s.addr.Store(ln.Addr())
	httpSrv := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}

	var quicLn *transport.QUICListener
	if s.cfg.QUICAddr != "" {
		if quicLn, err = transport.ListenQUIC(s.cfg.QUICAddr, nil, s.transport); err != nil {
			_ = ln.Close()
			return err
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.log.Info("HTTP listening", log.String("addr", ln.Addr().String()))
		if err := httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "http serve")
		}
		return nil
	})
	g.Go(func() error { return s.scheduler.Run(ctx) })
	if quicLn != nil {
		g.Go(func() error {
			s.log.Info("QUIC listening", log.String("addr", quicLn.Addr().String()))
			return quicLn.Serve(ctx)
		})
		g.Go(func() error { return s.acceptQUIC(ctx, quicLn) })
	}
	g.Go(func() error {
		<-ctx.Done()
		s.log.Info("Stopping server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		err := httpSrv.Shutdown(shutdownCtx)
		if quicLn != nil {
			_ = quicLn.Close()
		}
		s.hub.CloseAll()
		return err
	})

	err = g.Wait()
	s.log.Info("Server stopped")
	return err
}

func (s *Server) acceptQUIC(ctx context.Context, ln *transport.QUICListener) error {
	for {
		conn, err := ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, transport.ErrClosed) {
				return nil
			}
			return err
		}
		go s.serveConn(ctx, conn, protocol.CodecMsgpack)
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	codec, err := protocol.ParseCodec(r.URL.Query().Get("codec"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r)
	if err != nil {
		s.log.Debug("Upgrade failed", log.Error(err))
		return
	}
	s.serveConn(r.Context(), conn, codec)
}

// serveConn runs one session's reader on the calling goroutine until the
// connection fails or the session is closed.
func (s *Server) serveConn(ctx context.Context, conn transport.Conn, codec protocol.CodecID) {
	ctx = log.ContextWithSessionID(ctx, conn.ID())
	limiter := rate.NewLimiter(rate.Limit(s.cfg.RateLimit), s.cfg.RateBurst)
	sess := newSession(conn, codec, s.cfg.SendQueue, limiter, s.log.WithContext(ctx))
	s.hub.add(sess)
	go sess.writeLoop()

	defer func() {
		s.hub.remove(sess.id)
		if err := s.authority.Disconnect(context.WithoutCancel(ctx), sess.id); err != nil {
			sess.log.Warn("Disconnect failed", log.Error(err))
		}
		_ = sess.Close()
	}()

	s.authority.Connect(sess.id)

	for {
		frame, err := conn.ReadFrame()
		if err != nil {
			select {
			case <-sess.Done():
			default:
				sess.log.Debug("Read failed", log.Error(err))
			}
			return
		}
		sess.touch()
		sess.received.Add(1)
		if !sess.allow() {
			sess.log.Debug("Inbound frame dropped", log.Error(ErrRateLimited))
			continue
		}

		msg, used, err := protocol.Decode(frame)
		if err != nil {
			s.malformed.Add(1)
			sess.log.Debug("Rejected frame", log.Error(err))
			continue
		}
		sess.observeCodec(used)
		s.dispatch(ctx, sess, msg)
	}
}

func (s *Server) dispatch(ctx context.Context, sess *Session, msg protocol.Message) {
	var err error
	switch m := msg.(type) {
	case *protocol.Join:
		err = s.authority.Join(ctx, sess.id, m)
	case *protocol.PositionUpdate:
		err = s.authority.UpdatePosition(ctx, sess.id, m)
	case *protocol.FoodConsumed:
		err = s.authority.ConsumeFood(ctx, sess.id, m.ID)
	case *protocol.PlayerConsumed:
		err = s.authority.ConsumePlayer(ctx, sess.id, m.ID)
	case *protocol.Leave:
		err = s.authority.Leave(ctx, sess.id, m.ID)
	default:
		sess.log.Debug("Ignoring server-bound message", log.String("type", msg.Type().String()))
		return
	}
	switch {
	case err == nil:
	case authority.IsDrop(err):
		sess.log.Debug("Intent dropped", log.String("type", msg.Type().String()), log.Error(err))
	default:
		sess.log.Warn("Intent failed", log.String("type", msg.Type().String()), log.Error(err))
	}
}

// checkHealth closes sessions that have been silent for longer than the
// player timeout. It returns how many were closed.
func (s *Server) checkHealth() int {
	cutoff := time.Now().Add(-s.cfg.PlayerTimeout)
	n := 0
	for _, sess := range s.hub.snapshot() {
		if sess.LastSeen().Before(cutoff) {
			sess.log.Warn("Closing idle session", log.Time("last_seen", sess.LastSeen()))
			_ = sess.Close()
			n++
		}
	}
	return n
}

type Health struct {
	Status    string               `json:"status"`
	Uptime    string               `json:"uptime"`
	Players   int                  `json:"players"`
	Food      int                  `json:"food"`
	Sessions  int                  `json:"sessions"`
	Changes   uint64               `json:"changes"`
	Sent      uint64               `json:"frames_sent"`
	Dropped   uint64               `json:"frames_dropped"`
	Malformed uint64               `json:"frames_malformed"`
	Jobs      []broadcast.JobStats `json:"jobs"`
}

func (s *Server) Health() Health {
	st := s.authority.Stats()
	return Health{
		Status:    "ok",
		Uptime:    time.Since(s.startedAt).Round(time.Second).String(),
		Players:   st.Players,
		Food:      st.Food,
		Sessions:  s.hub.Len(),
		Changes:   st.Changes,
		Sent:      s.hub.sent.Load(),
		Dropped:   s.hub.dropped.Load(),
		Malformed: s.malformed.Load(),
		Jobs:      s.scheduler.Stats(),
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.Health())
}
