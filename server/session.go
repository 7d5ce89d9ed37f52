package server

import (
	"fmt"
	"log/slog"

	"github.com/migadu/submitd/logger"
)

// ConnectionStatsProvider defines an interface for getting connection statistics
type ConnectionStatsProvider interface {
	GetTotalConnections() int64
	GetActiveConnections() int64
}

// Session carries the identity of one client connection for logging.
type Session struct {
	Id         string
	RemoteIP   string
	HostName   string
	ServerName string // Name of the server instance (e.g., "submit0")
	Protocol   string
	Stats      ConnectionStatsProvider
}

func (s *Session) Log(format string, args ...any) {
	s.emit(slog.LevelInfo, format, args...)
}

func (s *Session) DebugLog(format string, args ...any) {
	s.emit(slog.LevelDebug, format, args...)
}

func (s *Session) WarnLog(format string, args ...any) {
	s.emit(slog.LevelWarn, format, args...)
}

func (s *Session) emit(level slog.Level, format string, args ...any) {
	protocolPrefix := s.Protocol
	if s.ServerName != "" {
		protocolPrefix = fmt.Sprintf("%s-%s", s.Protocol, s.ServerName)
	}

	attrs := []any{"protocol", protocolPrefix, "remote", s.RemoteIP, "session", s.Id}
	if s.Stats != nil {
		attrs = append(attrs, "conn_total", s.Stats.GetTotalConnections(), "conn_active", s.Stats.GetActiveConnections())
	}
	attrs = append(attrs, "msg", fmt.Sprintf(format, args...))

	switch level {
	case slog.LevelDebug:
		logger.Debug("Session", attrs...)
	case slog.LevelWarn:
		logger.Warn("Session", attrs...)
	default:
		logger.Info("Session", attrs...)
	}
}
