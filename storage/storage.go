// Package storage stores received messages in S3-compatible object storage.
//
// Callers choose the object key; the delivery sink uses the recipient
// domain, local part and the BLAKE3 hash of the body. When encryption is
// enabled the body is sealed client-side with AES-256-GCM before upload;
// the random nonce is prepended to the ciphertext.
//
//	s3, err := storage.New("s3.example.com", "access", "secret", "mail", true, false)
//	if err != nil {
//		return err
//	}
//	if err := s3.EnableEncryption(hexKey); err != nil {
//		return err
//	}
//	err = s3.Put(ctx, key, bytes.NewReader(body), int64(len(body)), meta)
package storage

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/migadu/submitd/logger"
	"github.com/migadu/submitd/pkg/metrics"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type S3Storage struct {
	Client        *minio.Client
	BucketName    string
	Encrypt       bool
	EncryptionKey []byte
}

func New(endpoint, accessKeyID, secretAccessKey, bucketName string, useSSL bool, debug bool) (*S3Storage, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKeyID, secretAccessKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		logger.Error("Storage: failed to initialize MinIO client", "endpoint", endpoint, "error", err)
		return nil, fmt.Errorf("failed to initialize MinIO client: %w", err)
	}

	if debug {
		client.TraceOn(os.Stdout)
	}

	return &S3Storage{
		Client:     client,
		BucketName: bucketName,
	}, nil
}

// EnableEncryption enables client-side encryption with a hex-encoded
// 256-bit key.
func (s *S3Storage) EnableEncryption(encryptionKey string) error {
	if encryptionKey == "" {
		return fmt.Errorf("encryption key is required when encryption is enabled")
	}

	masterKey, err := hex.DecodeString(encryptionKey)
	if err != nil {
		return fmt.Errorf("failed to decode encryption key: %w", err)
	}
	if len(masterKey) != 32 {
		return fmt.Errorf("encryption key must be 32 bytes (64 hex characters)")
	}

	s.Encrypt = true
	s.EncryptionKey = masterKey
	logger.Info("Storage: client-side encryption enabled")
	return nil
}

// Exists checks if an object with the given key exists in the bucket.
func (s *S3Storage) Exists(ctx context.Context, key string) (bool, error) {
	start := time.Now()
	defer func() {
		metrics.S3OperationDuration.WithLabelValues("STAT").Observe(time.Since(start).Seconds())
	}()

	_, err := s.Client.StatObject(ctx, s.BucketName, key, minio.StatObjectOptions{})
	if err == nil {
		metrics.S3OperationsTotal.WithLabelValues("STAT", "success").Inc()
		return true, nil
	}

	var minioErr minio.ErrorResponse
	if errors.As(err, &minioErr) && minioErr.StatusCode == 404 {
		metrics.S3OperationsTotal.WithLabelValues("STAT", "success").Inc()
		return false, nil
	}

	metrics.S3OperationsTotal.WithLabelValues("STAT", "error").Inc()
	metrics.StorageOperationErrors.WithLabelValues("STAT", classifyS3Error(err)).Inc()
	return false, fmt.Errorf("failed to stat object %s: %w", key, err)
}

// Put uploads body under key. meta is stored as user metadata.
func (s *S3Storage) Put(ctx context.Context, key string, body io.Reader, size int64, meta map[string]string) error {
	start := time.Now()
	defer func() {
		metrics.S3OperationDuration.WithLabelValues("PUT").Observe(time.Since(start).Seconds())
	}()

	opts := minio.PutObjectOptions{
		SendContentMd5: true,
		ContentType:    "message/rfc822",
		UserMetadata:   meta,
	}

	if s.Encrypt {
		data, err := io.ReadAll(body)
		if err != nil {
			metrics.StorageOperationErrors.WithLabelValues("PUT", "read_error").Inc()
			metrics.S3OperationsTotal.WithLabelValues("PUT", "error").Inc()
			return fmt.Errorf("failed to read data for encryption: %w", err)
		}
		sealed, err := s.encryptData(data)
		if err != nil {
			metrics.StorageOperationErrors.WithLabelValues("PUT", "encryption_error").Inc()
			metrics.S3OperationsTotal.WithLabelValues("PUT", "error").Inc()
			return fmt.Errorf("failed to encrypt data: %w", err)
		}
		body = bytes.NewReader(sealed)
		size = int64(len(sealed))
		opts.ContentType = "application/octet-stream"
	}

	if _, err := s.Client.PutObject(ctx, s.BucketName, key, body, size, opts); err != nil {
		metrics.StorageOperationErrors.WithLabelValues("PUT", classifyS3Error(err)).Inc()
		metrics.S3OperationsTotal.WithLabelValues("PUT", "error").Inc()
		return fmt.Errorf("failed to put object %s: %w", key, err)
	}
	metrics.S3OperationsTotal.WithLabelValues("PUT", "success").Inc()
	return nil
}

// encryptData encrypts data using AES-256-GCM
func (s *S3Storage) encryptData(plaintext []byte) ([]byte, error) {
	gcm, err := s.gcm()
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func (s *S3Storage) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(s.EncryptionKey)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// classifyS3Error classifies S3 errors for metrics tracking
func classifyS3Error(err error) string {
	if err == nil {
		return "none"
	}

	errStr := err.Error()
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case strings.Contains(errStr, "AccessDenied") || strings.Contains(errStr, "Forbidden"):
		return "access_denied"
	case strings.Contains(errStr, "NoSuchBucket"):
		return "no_bucket"
	case strings.Contains(errStr, "SlowDown") || strings.Contains(errStr, "RequestLimitExceeded"):
		return "throttled"
	case strings.Contains(errStr, "connection refused") || strings.Contains(errStr, "no such host"):
		return "network_error"
	default:
		return "unknown"
	}
}
