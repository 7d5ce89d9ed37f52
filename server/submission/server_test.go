package submission

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	mu       sync.Mutex
	messages []*Message
	err      error
}

func (h *recordingHandler) HandleMessage(ctx context.Context, msg *Message) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, msg)
	return h.err
}

func (h *recordingHandler) received() []*Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*Message(nil), h.messages...)
}

func startServer(t *testing.T, handler Handler, opts ServerOptions) (*Server, string, <-chan error) {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := New("test", l.Addr().String(), handler, opts)
	done := make(chan error, 1)
	go func() { done <- srv.Serve(context.Background(), l) }()
	t.Cleanup(func() { srv.Close() })

	return srv, l.Addr().String(), done
}

// converse writes script and returns every reply line until the server
// closes the connection.
func converse(t *testing.T, addr, script string) []string {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))

	_, err = io.WriteString(conn, script)
	require.NoError(t, err)

	out, err := io.ReadAll(conn)
	require.NoError(t, err)
	return splitReplies(string(out))
}

func waitServe(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
		return nil
	}
}

const fullScript = heloLine + mailLine + rcptLine + dataLine + "Subject: test\r\n\r\nhello\r\n.\r\n"

func TestServerDeliversMessage(t *testing.T) {
	handler := &recordingHandler{}
	srv, addr, done := startServer(t, handler, ServerOptions{Hostname: "mx.test", MaxSessions: 1})

	replies := converse(t, addr, fullScript)
	require.NoError(t, waitServe(t, done))

	got := handler.received()
	require.Len(t, got, 1)
	msg := got[0]
	assert.Equal(t, "client.example.org", msg.Identity)
	assert.Equal(t, "alice@example.org", msg.Sender)
	assert.Equal(t, "bob@example.com", msg.Recipient)
	assert.Equal(t, "Subject: test\r\n\r\nhello", msg.Body)
	assert.Equal(t, "127.0.0.1", msg.RemoteAddr)
	assert.Len(t, msg.ID, 20)

	require.Len(t, replies, 6)
	assert.Equal(t, []string{greeting, heloAccepted, replyOK, replyOK, replyData}, replies[:5])
	assert.Equal(t, "250 OK: queued as "+msg.ID, replies[5])

	assert.Equal(t, int64(1), srv.GetTotalConnections())
	assert.Equal(t, int64(0), srv.GetActiveConnections())
}

func TestServerHandlerFailure(t *testing.T) {
	handler := &recordingHandler{err: errors.New("disk full")}
	_, addr, done := startServer(t, handler, ServerOptions{Hostname: "mx.test", MaxSessions: 1})

	replies := converse(t, addr, fullScript)
	require.NoError(t, waitServe(t, done))

	assert.Len(t, handler.received(), 1)
	assert.Equal(t, "451 Requested action aborted: local error in processing", replies[len(replies)-1])
}

func TestServerRejectedSessionIsNotDelivered(t *testing.T) {
	handler := &recordingHandler{}
	_, addr, done := startServer(t, handler, ServerOptions{Hostname: "mx.test", MaxSessions: 1})

	replies := converse(t, addr, mailLine)
	require.NoError(t, waitServe(t, done))

	assert.Equal(t, []string{greeting, reply503}, replies)
	assert.Empty(t, handler.received())
}

func TestServerSessionsRunOneAfterAnother(t *testing.T) {
	handler := &recordingHandler{}
	srv, addr, done := startServer(t, handler, ServerOptions{Hostname: "mx.test", MaxSessions: 3})

	converse(t, addr, fullScript)
	converse(t, addr, "NOOP\r\n")
	converse(t, addr, fullScript)
	require.NoError(t, waitServe(t, done))

	got := handler.received()
	require.Len(t, got, 2)
	assert.NotEqual(t, got[0].ID, got[1].ID)
	assert.Equal(t, int64(3), srv.GetTotalConnections())
}

func TestServerStopsOnContextCancel(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := New("test", l.Addr().String(), nil, ServerOptions{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, l) }()

	cancel()
	assert.NoError(t, waitServe(t, done))

	_, err = net.Dial("tcp", l.Addr().String())
	assert.Error(t, err, "listener must be closed")
}

func TestServerClose(t *testing.T) {
	srv, _, done := startServer(t, nil, ServerOptions{})
	// Give Serve a moment to register the listener.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, srv.Close())
	if err := waitServe(t, done); err != nil {
		assert.ErrorIs(t, err, net.ErrClosed)
	}

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	assert.ErrorIs(t, srv.Serve(context.Background(), l), net.ErrClosed)
}

func TestServerSessionTimeout(t *testing.T) {
	_, addr, done := startServer(t, nil, ServerOptions{Hostname: "mx.test", SessionTimeout: 100 * time.Millisecond, MaxSessions: 1})

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))

	// Stall after the greeting; the server gives up and closes.
	out, err := io.ReadAll(conn)
	require.NoError(t, err)
	assert.Equal(t, greeting+"\r\n", string(out))
	require.NoError(t, waitServe(t, done))
}

func TestServerCancelEndsActiveSession(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	handler := &recordingHandler{}
	srv := New("test", l.Addr().String(), handler, ServerOptions{Hostname: "mx.test", SessionTimeout: time.Minute})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, l) }()

	conn, err := net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))

	buf := make([]byte, len(greeting)+2)
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)
	assert.Equal(t, greeting+"\r\n", string(buf))

	// The client stalls mid-session; cancellation must not wait for the
	// session timeout.
	start := time.Now()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve still waiting on the stalled session")
	}
	assert.Less(t, time.Since(start), 2*time.Second)

	_, err = io.ReadAll(conn)
	require.NoError(t, err, "server closes the connection")
	assert.Empty(t, handler.received())
}

func TestHandleConnWithPipe(t *testing.T) {
	handler := &recordingHandler{}
	srv := New("test", "", handler, ServerOptions{Hostname: "mx.test"})

	client, server := net.Pipe()
	defer client.Close()

	type result struct {
		msg *Message
		err error
	}
	res := make(chan result, 1)
	go func() {
		msg, err := srv.HandleConn(context.Background(), server)
		res <- result{msg, err}
	}()

	var replies strings.Builder
	readDone := make(chan struct{})
	go func() {
		io.Copy(&replies, client)
		close(readDone)
	}()

	_, err := io.WriteString(client, fullScript)
	require.NoError(t, err)

	r := <-res
	<-readDone
	require.NoError(t, r.err)
	assert.Equal(t, "Subject: test\r\n\r\nhello", r.msg.Body)
	assert.True(t, strings.HasSuffix(replies.String(), "250 OK: queued as "+r.msg.ID+"\r\n"))
}
