package delivery

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"

	"github.com/emersion/go-smtp"
	"github.com/migadu/submitd/config"
	"github.com/migadu/submitd/logger"
	"github.com/migadu/submitd/pkg/retry"
	"github.com/migadu/submitd/server/submission"
)

// RelayError wraps an error with information about whether it's permanent or temporary.
// Permanent errors (5xx SMTP codes) should not be retried.
// Temporary errors (4xx SMTP codes, network errors) can be retried.
type RelayError struct {
	Err       error
	Permanent bool
}

func (e *RelayError) Error() string {
	if e.Permanent {
		return fmt.Sprintf("permanent failure: %v", e.Err)
	}
	return fmt.Sprintf("temporary failure: %v", e.Err)
}

func (e *RelayError) Unwrap() error {
	return e.Err
}

// IsPermanentError reports whether err is a permanent failure. 5xx SMTP
// replies are permanent; 4xx replies and network errors are not.
func IsPermanentError(err error) bool {
	if err == nil {
		return false
	}

	var relayErr *RelayError
	if errors.As(err, &relayErr) {
		return relayErr.Permanent
	}

	var smtpErr *smtp.SMTPError
	if errors.As(err, &smtpErr) {
		return !smtpErr.Temporary()
	}
	return false
}

// RelaySink forwards each message to an upstream SMTP server, retrying
// temporary failures with exponential backoff.
type RelaySink struct {
	Addr        string
	HeloName    string
	UseTLS      bool
	UseStartTLS bool
	TLSVerify   bool
	Backoff     retry.BackoffConfig
}

func NewRelaySink(cfg config.RelayConfig, hostname string) (*RelaySink, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("SMTP relay address not configured")
	}
	initial, err := cfg.GetInitialBackoff()
	if err != nil {
		return nil, fmt.Errorf("invalid relay initial_backoff: %w", err)
	}

	helo := cfg.HeloName
	if helo == "" {
		helo = hostname
	}

	backoff := retry.DefaultBackoffConfig()
	backoff.InitialInterval = initial
	backoff.MaxRetries = cfg.GetMaxAttempts() - 1

	return &RelaySink{
		Addr:        cfg.Addr,
		HeloName:    helo,
		UseTLS:      cfg.TLS,
		UseStartTLS: cfg.StartTLS,
		TLSVerify:   cfg.TLSVerify,
		Backoff:     backoff,
	}, nil
}

func (r *RelaySink) Name() string { return "relay" }

func (r *RelaySink) HandleMessage(ctx context.Context, msg *submission.Message) error {
	attempt := 0
	err := retry.WithRetryAdvanced(ctx, func() error {
		attempt++
		err := r.send(msg)
		if err == nil {
			return nil
		}
		if IsPermanentError(err) {
			return retry.Stop(err)
		}
		logger.Warn("Delivery: relay attempt failed", "id", msg.ID, "relay", r.Addr, "attempt", attempt, "error", err)
		return err
	}, r.Backoff)
	if err != nil {
		return err
	}

	logger.Info("Delivery: message relayed", "id", msg.ID, "relay", r.Addr, "attempts", attempt)
	return nil
}

func (r *RelaySink) dial() (*smtp.Client, error) {
	tlsConfig := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		Renegotiation:      tls.RenegotiateNever,
		InsecureSkipVerify: !r.TLSVerify,
	}

	switch {
	case !r.UseTLS:
		return smtp.Dial(r.Addr)
	case r.UseStartTLS:
		return smtp.DialStartTLS(r.Addr, tlsConfig)
	default:
		return smtp.DialTLS(r.Addr, tlsConfig)
	}
}

// send runs one SMTP transaction for msg.
func (r *RelaySink) send(msg *submission.Message) error {
	c, err := r.dial()
	if err != nil {
		return &RelayError{Err: fmt.Errorf("failed to connect to SMTP relay %s: %w", r.Addr, err)}
	}
	defer c.Close()

	if r.HeloName != "" {
		if err := c.Hello(r.HeloName); err != nil {
			return &RelayError{Err: fmt.Errorf("failed to greet relay: %w", err), Permanent: IsPermanentError(err)}
		}
	}
	if err := c.Mail(msg.Sender, nil); err != nil {
		return &RelayError{Err: fmt.Errorf("failed to set sender: %w", err), Permanent: IsPermanentError(err)}
	}
	if err := c.Rcpt(msg.Recipient, nil); err != nil {
		return &RelayError{Err: fmt.Errorf("failed to set recipient: %w", err), Permanent: IsPermanentError(err)}
	}

	wc, err := c.Data()
	if err != nil {
		return &RelayError{Err: fmt.Errorf("failed to start data: %w", err), Permanent: IsPermanentError(err)}
	}
	if _, err := wc.Write(msg.Wire()); err != nil {
		_ = wc.Close()
		return &RelayError{Err: fmt.Errorf("failed to write message: %w", err)}
	}
	if err := wc.Close(); err != nil {
		return &RelayError{Err: fmt.Errorf("failed to close data writer: %w", err), Permanent: IsPermanentError(err)}
	}

	// The message is accepted at this point; a failed QUIT is not a delivery failure.
	if err := c.Quit(); err != nil {
		logger.Warn("Delivery: failed to send QUIT to relay", "relay", r.Addr, "error", err)
	}
	return nil
}

func (r *RelaySink) Close() error { return nil }

