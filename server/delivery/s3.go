package delivery

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/migadu/submitd/config"
	"github.com/migadu/submitd/helpers"
	"github.com/migadu/submitd/logger"
	"github.com/migadu/submitd/server/submission"
	"github.com/migadu/submitd/storage"
)

// objectStore is the part of storage.S3Storage the S3 sink uses.
type objectStore interface {
	Exists(ctx context.Context, key string) (bool, error)
	Put(ctx context.Context, key string, body io.Reader, size int64, meta map[string]string) error
}

// S3Sink stores each message as an object keyed by recipient and content
// hash. A body already stored for the same recipient is not uploaded again.
type S3Sink struct {
	store objectStore
}

func NewS3Sink(ctx context.Context, cfg config.S3Config) (*S3Sink, error) {
	s3, err := storage.New(cfg.Endpoint, cfg.AccessKey, cfg.SecretKey, cfg.Bucket, !cfg.DisableTLS, cfg.Debug)
	if err != nil {
		return nil, err
	}
	if cfg.Encrypt {
		if err := s3.EnableEncryption(cfg.EncryptionKey); err != nil {
			return nil, err
		}
	}
	return &S3Sink{store: s3}, nil
}

func (*S3Sink) Name() string { return "s3" }

// ObjectKey returns the key msg is stored under.
func ObjectKey(msg *submission.Message) string {
	hash := helpers.HashContent([]byte(msg.Body))
	localPart, domain, err := helpers.SplitEmailAddress(msg.Recipient)
	if err != nil {
		return helpers.NewS3Key("_invalid", "_invalid", hash)
	}
	return helpers.NewS3Key(domain, localPart, hash)
}

func (s *S3Sink) HandleMessage(ctx context.Context, msg *submission.Message) error {
	key := ObjectKey(msg)

	exists, err := s.store.Exists(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to check for existing object: %w", err)
	}
	if exists {
		logger.Info("Delivery: identical message already stored, skipping upload", "id", msg.ID, "key", key)
		return nil
	}

	meta := map[string]string{
		"Message-Id-Internal": msg.ID,
		"Envelope-From":       msg.Sender,
		"Envelope-To":         msg.Recipient,
		"Helo":                msg.Identity,
		"Received-At":         strconv.FormatInt(msg.ReceivedAt.Unix(), 10),
	}
	wire := msg.Wire()
	if err := s.store.Put(ctx, key, bytes.NewReader(wire), int64(len(wire)), meta); err != nil {
		return err
	}

	logger.Info("Delivery: message stored", "id", msg.ID, "key", key, "size", len(wire))
	return nil
}

func (*S3Sink) Close() error { return nil }
