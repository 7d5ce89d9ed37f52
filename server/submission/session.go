package submission

import (
	"errors"
	"fmt"
	"time"

	"github.com/emersion/go-smtp"
	"github.com/migadu/submitd/pkg/metrics"
	"github.com/migadu/submitd/server"
)

// Protocol is the label used in logs and metrics.
const Protocol = "SUBMIT"

const metricsProtocol = "submission"

// State is a position in the fixed command sequence of a session.
type State int

const (
	StateAwaitGreeting State = iota
	StateAwaitSender
	StateAwaitRecipient
	StateAwaitBodyBegin
	StateReadingBody
	StateComplete
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateAwaitGreeting:
		return "AWAIT_GREETING"
	case StateAwaitSender:
		return "AWAIT_SENDER"
	case StateAwaitRecipient:
		return "AWAIT_RECIPIENT"
	case StateAwaitBodyBegin:
		return "AWAIT_BODY_BEGIN"
	case StateReadingBody:
		return "READING_BODY"
	case StateComplete:
		return "COMPLETE"
	case StateFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// expectedCommand is the only command accepted in each command state.
var expectedCommand = map[State]CommandKind{
	StateAwaitGreeting:  CommandGreet,
	StateAwaitSender:    CommandSender,
	StateAwaitRecipient: CommandRecipient,
	StateAwaitBodyBegin: CommandBeginBody,
}

// Transport is what a Session needs from its connection.
type Transport interface {
	LineSource
	RawLineReader
	ResponseSink
}

type SessionOptions struct {
	ID             string
	RemoteAddr     string
	Hostname       string // announced in the greeting
	ServerName     string
	MaxMessageSize int64 // 0 means unlimited
	Debug          bool  // log every command line
	Stats          server.ConnectionStatsProvider
}

// Session drives one submission transaction over a Transport. A Session
// is single use: Run may be called once.
type Session struct {
	server.Session
	t     Transport
	opts  SessionOptions
	state State

	identity  string
	sender    string
	recipient string
}

func NewSession(t Transport, opts SessionOptions) *Session {
	if opts.Hostname == "" {
		opts.Hostname = "localhost"
	}
	return &Session{
		Session: server.Session{
			Id:         opts.ID,
			RemoteIP:   opts.RemoteAddr,
			HostName:   opts.Hostname,
			ServerName: opts.ServerName,
			Protocol:   Protocol,
			Stats:      opts.Stats,
		},
		t:     t,
		opts:  opts,
		state: StateAwaitGreeting,
	}
}

// State returns the current state.
func (s *Session) State() State {
	return s.state
}

// Run sends the greeting, walks the command sequence and reads the body.
// It returns the finished Message, or a *SessionError and no Message.
// Any failure ends the session; there are no retries within a session.
func (s *Session) Run() (*Message, error) {
	start := time.Now()
	msg, err := s.run()

	result := "success"
	if err != nil {
		result = kindLabel(err)
		s.state = StateFailed
		s.DebugLog("session failed: %v", err)
	} else {
		metrics.MessageSizeBytes.WithLabelValues(metricsProtocol).Observe(float64(msg.Size()))
		s.Log("message received from=%s to=%s size=%d in %s", msg.Sender, msg.Recipient, msg.Size(), time.Since(start).Round(time.Millisecond))
	}
	metrics.SessionsTotal.WithLabelValues(metricsProtocol, result).Inc()
	return msg, err
}

func (s *Session) run() (*Message, error) {
	if err := s.Reply(220, fmt.Sprintf("%s SMTP", s.opts.Hostname)); err != nil {
		return nil, s.transportError(err)
	}

	for s.state != StateReadingBody {
		if err := s.step(); err != nil {
			return nil, err
		}
	}

	body, err := ReadBody(s.t, s.opts.MaxMessageSize)
	if err != nil {
		if errors.Is(err, ErrBodyTooLarge) {
			s.Log("message body exceeds limit of %d bytes", s.opts.MaxMessageSize)
			return nil, s.reject(replyTooLarge, ErrBodyTooLarge, "")
		}
		return nil, &SessionError{Kind: Kind(err), State: s.state, Err: err}
	}

	s.state = StateComplete
	return &Message{
		ID:         s.opts.ID,
		Identity:   s.identity,
		Sender:     s.sender,
		Recipient:  s.recipient,
		Body:       body,
		RemoteAddr: s.opts.RemoteAddr,
		ReceivedAt: time.Now(),
	}, nil
}

// step reads and handles one command line.
func (s *Session) step() error {
	line, err := s.t.ReadLine()
	if err != nil {
		if errors.Is(err, errLineTooLong) {
			metrics.CommandsTotal.WithLabelValues(metricsProtocol, CommandUnrecognized.String(), "failure").Inc()
			return s.reject(replyUnrecognized, ErrParseMismatch, "")
		}
		return s.transportError(err)
	}
	if s.opts.Debug {
		s.DebugLog("C: %s", line)
	}

	cmd := ParseCommand(line)
	switch {
	case cmd.Kind == CommandUnrecognized:
		metrics.CommandsTotal.WithLabelValues(metricsProtocol, cmd.Kind.String(), "failure").Inc()
		return s.reject(replyUnrecognized, ErrParseMismatch, line)
	case cmd.Kind != expectedCommand[s.state]:
		metrics.CommandsTotal.WithLabelValues(metricsProtocol, cmd.Kind.String(), "failure").Inc()
		return s.reject(replyBadSequence, ErrSequenceViolation, line)
	}

	if err := s.accept(cmd); err != nil {
		return s.transportError(err)
	}
	metrics.CommandsTotal.WithLabelValues(metricsProtocol, cmd.Kind.String(), "success").Inc()
	return nil
}

// accept stores the payload of an expected command, acknowledges it and
// advances the state.
func (s *Session) accept(cmd Command) error {
	switch cmd.Kind {
	case CommandGreet:
		s.identity = cmd.Arg
		s.state = StateAwaitSender
		return s.Reply(250, fmt.Sprintf("%s Hello %s", s.opts.Hostname, cmd.Arg))
	case CommandSender:
		s.sender = cmd.Arg
		s.state = StateAwaitRecipient
		return s.Reply(250, "OK")
	case CommandRecipient:
		s.recipient = cmd.Arg
		s.state = StateAwaitBodyBegin
		return s.Reply(250, "OK")
	case CommandBeginBody:
		s.state = StateReadingBody
		return s.Reply(354, "End data with <CR><LF>.<CR><LF>")
	}
	return fmt.Errorf("unexpected command %s", cmd.Kind)
}

// reject sends a best-effort failure reply and builds the terminal error.
func (s *Session) reject(reply *smtp.SMTPError, kind error, line string) error {
	sessErr := &SessionError{Kind: kind, State: s.state, Line: line}
	if err := s.Reply(int(reply.Code), reply.Message); err != nil {
		sessErr.Err = err
	} else {
		sessErr.Reply = reply
	}
	return sessErr
}

func (s *Session) transportError(err error) error {
	return &SessionError{Kind: ErrTransportFailure, State: s.state, Err: err}
}

// Reply writes a single-line "<code> <text>" reply.
func (s *Session) Reply(code int, text string) error {
	line := fmt.Sprintf("%d %s", code, text)
	if s.opts.Debug {
		s.DebugLog("S: %s", line)
	}
	return s.t.WriteLine(line)
}
