package submission

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/migadu/submitd/logger"
	"github.com/migadu/submitd/pkg/metrics"
	"github.com/migadu/submitd/server"
	"github.com/migadu/submitd/server/idgen"
)

// Handler receives every Message a session completes. Returning an error
// makes the server answer the transaction with a transient failure.
type Handler interface {
	HandleMessage(ctx context.Context, msg *Message) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, msg *Message) error

func (f HandlerFunc) HandleMessage(ctx context.Context, msg *Message) error {
	return f(ctx, msg)
}

type ServerOptions struct {
	Hostname       string
	MaxMessageSize int64         // 0 means unlimited
	SessionTimeout time.Duration // deadline for a whole session, 0 disables it
	MaxSessions    int           // stop serving after this many sessions, 0 means never
	Debug          bool
}

// Server accepts connections and runs one Session per connection. Sessions
// run one after another on the accepting goroutine; a connection waits in
// the listen backlog until the previous session has finished.
type Server struct {
	name    string
	addr    string
	handler Handler
	opts    ServerOptions

	totalConnections  atomic.Int64
	activeConnections atomic.Int64

	mu       sync.Mutex
	listener net.Listener
	closed   bool
}

func New(name, addr string, handler Handler, opts ServerOptions) *Server {
	if opts.Hostname == "" {
		opts.Hostname = "localhost"
	}
	return &Server{
		name:    name,
		addr:    addr,
		handler: handler,
		opts:    opts,
	}
}

func (s *Server) GetTotalConnections() int64 {
	return s.totalConnections.Load()
}

func (s *Server) GetActiveConnections() int64 {
	return s.activeConnections.Load()
}

// ListenAndServe listens on the configured TCP address and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context) error {
	l, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	return s.Serve(ctx, l)
}

// Serve accepts connections on l until ctx is done, Close is called or
// MaxSessions sessions have been served. It closes l before returning.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		l.Close()
		return net.ErrClosed
	}
	s.listener = l
	s.mu.Unlock()
	defer l.Close()

	stop := context.AfterFunc(ctx, func() { l.Close() })
	defer stop()

	logger.Info("Submission: server listening", "name", s.name, "addr", l.Addr().String(),
		"max_message_size", humanize.IBytes(uint64(s.opts.MaxMessageSize)), "max_sessions", s.opts.MaxSessions)

	served := 0
	for {
		nc, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil || s.isClosed() || errors.Is(err, net.ErrClosed) {
				logger.Info("Submission: server stopped", "name", s.name)
				return nil
			}
			return fmt.Errorf("accept failed: %w", err)
		}

		s.HandleConn(ctx, nc)

		served++
		if s.opts.MaxSessions > 0 && served >= s.opts.MaxSessions {
			logger.Info("Submission: session limit reached, stopping", "name", s.name, "sessions", served)
			return nil
		}
	}
}

// HandleConn runs a session on nc, passes the message to the handler and
// sends the final reply. nc is closed on return. Cancelling ctx ends the
// session at its next read or write.
func (s *Server) HandleConn(ctx context.Context, nc net.Conn) (*Message, error) {
	start := time.Now()
	defer nc.Close()

	s.totalConnections.Add(1)
	s.activeConnections.Add(1)
	metrics.ConnectionsTotal.WithLabelValues(metricsProtocol).Inc()
	metrics.ConnectionsCurrent.WithLabelValues(metricsProtocol).Inc()
	defer func() {
		s.activeConnections.Add(-1)
		metrics.ConnectionsCurrent.WithLabelValues(metricsProtocol).Dec()
		metrics.ConnectionDuration.WithLabelValues(metricsProtocol).Observe(time.Since(start).Seconds())
	}()

	if s.opts.SessionTimeout > 0 {
		if err := nc.SetDeadline(start.Add(s.opts.SessionTimeout)); err != nil {
			logger.Warn("Submission: failed to set connection deadline", "name", s.name, "error", err)
		}
	}
	// Cancellation expires the deadline so a blocked read or write returns.
	stop := context.AfterFunc(ctx, func() { nc.SetDeadline(time.Now()) })
	defer stop()

	remoteHost, _ := server.GetHostPortFromAddr(nc.RemoteAddr())
	sess := NewSession(NewConn(nc), SessionOptions{
		ID:             idgen.New(),
		RemoteAddr:     remoteHost,
		Hostname:       s.opts.Hostname,
		ServerName:     s.name,
		MaxMessageSize: s.opts.MaxMessageSize,
		Debug:          s.opts.Debug,
		Stats:          s,
	})
	sess.DebugLog("connection accepted")

	msg, err := sess.Run()
	if err != nil {
		if server.IsConnectionError(err) {
			sess.DebugLog("client went away: %v", err)
		} else {
			sess.WarnLog("session ended without a message: %v", err)
		}
		return nil, err
	}

	if err := s.deliver(ctx, sess, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

func (s *Server) deliver(ctx context.Context, sess *Session, msg *Message) error {
	if s.handler != nil {
		if err := s.handler.HandleMessage(ctx, msg); err != nil {
			sess.WarnLog("message handler failed: %v", err)
			if replyErr := sess.Reply(451, "Requested action aborted: local error in processing"); replyErr != nil {
				sess.DebugLog("failed to send failure reply: %v", replyErr)
			}
			return fmt.Errorf("handle message %s: %w", msg.ID, err)
		}
	}
	if err := sess.Reply(250, "OK: queued as "+msg.ID); err != nil {
		sess.DebugLog("failed to send final reply: %v", err)
	}
	return nil
}

// Close stops Serve. Sessions already running finish on their own.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
