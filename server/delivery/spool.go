package delivery

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/migadu/submitd/helpers"
	"github.com/migadu/submitd/logger"
	"github.com/migadu/submitd/server/submission"

	_ "modernc.org/sqlite"
)

// ErrNotSpooled is returned by SpoolSink.Get for an unknown id.
var ErrNotSpooled = errors.New("message not in spool")

// SpoolSink writes messages to a local SQLite database.
type SpoolSink struct {
	db *sql.DB
}

const spoolSchema = `
CREATE TABLE IF NOT EXISTS messages (
	id           TEXT PRIMARY KEY,
	received_at  INTEGER NOT NULL,
	helo         TEXT NOT NULL,
	sender       TEXT NOT NULL,
	recipient    TEXT NOT NULL,
	subject      TEXT NOT NULL,
	remote_addr  TEXT NOT NULL,
	size         INTEGER NOT NULL,
	content_hash TEXT NOT NULL,
	body         BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_received_at ON messages(received_at);
`

func NewSpoolSink(ctx context.Context, path string) (*SpoolSink, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open spool DB: %w", err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, `PRAGMA journal_mode = WAL;`); err != nil {
		logger.Warn("Delivery: failed to set PRAGMA journal_mode = WAL on spool", "error", err)
	}
	if _, err := db.ExecContext(ctx, spoolSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create spool schema: %w", err)
	}

	logger.Info("Delivery: spool opened", "path", path)
	return &SpoolSink{db: db}, nil
}

func (*SpoolSink) Name() string { return "spool" }

func (s *SpoolSink) HandleMessage(ctx context.Context, msg *submission.Message) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, received_at, helo, sender, recipient, subject, remote_addr, size, content_hash, body)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID,
		msg.ReceivedAt.UnixNano(),
		msg.Identity,
		msg.Sender,
		msg.Recipient,
		helpers.SanitizeUTF8(msg.Subject()),
		msg.RemoteAddr,
		msg.Size(),
		helpers.HashContent([]byte(msg.Body)),
		[]byte(msg.Body),
	)
	if err != nil {
		return fmt.Errorf("failed to spool message %s: %w", msg.ID, err)
	}
	logger.Info("Delivery: message spooled", "id", msg.ID, "size", msg.Size())
	return nil
}

// Get loads a spooled message by id.
func (s *SpoolSink) Get(ctx context.Context, id string) (*submission.Message, error) {
	var (
		msg        submission.Message
		receivedAt int64
		body       []byte
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, received_at, helo, sender, recipient, remote_addr, body
		FROM messages WHERE id = ?`, id).
		Scan(&msg.ID, &receivedAt, &msg.Identity, &msg.Sender, &msg.Recipient, &msg.RemoteAddr, &body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotSpooled
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load spooled message %s: %w", id, err)
	}
	msg.Body = string(body)
	msg.ReceivedAt = time.Unix(0, receivedAt)
	return &msg, nil
}

// Count returns the number of spooled messages.
func (s *SpoolSink) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *SpoolSink) Close() error {
	return s.db.Close()
}
