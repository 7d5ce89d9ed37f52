package delivery

import (
	"context"

	"github.com/dustin/go-humanize"
	"github.com/migadu/submitd/logger"
	"github.com/migadu/submitd/server/submission"
)

// LogSink records a summary of every message and discards the body.
type LogSink struct{}

func NewLogSink() *LogSink {
	return &LogSink{}
}

func (*LogSink) Name() string { return "log" }

func (*LogSink) HandleMessage(ctx context.Context, msg *submission.Message) error {
	attrs := []any{
		"id", msg.ID,
		"helo", msg.Identity,
		"from", msg.Sender,
		"to", msg.Recipient,
		"size", humanize.IBytes(uint64(msg.Size())),
		"remote", msg.RemoteAddr,
	}
	if h, err := msg.Header(); err == nil {
		if subject, err := h.Subject(); err == nil && subject != "" {
			attrs = append(attrs, "subject", subject)
		}
		if mid, err := h.MessageID(); err == nil && mid != "" {
			attrs = append(attrs, "message_id", mid)
		}
	}
	logger.InfoContext(ctx, "Delivery: message received", attrs...)
	return nil
}

func (*LogSink) Close() error { return nil }
