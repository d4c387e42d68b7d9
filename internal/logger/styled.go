// internal/logger/styled.go
package logger

import (
	"fmt"
	"log/slog"

	"github.com/relaycore/relay/theme"
)

// StyledLogger wraps slog.Logger with theme-aware formatting methods used
// throughout the CLI bootstrap and admin surface.
type StyledLogger struct {
	logger *slog.Logger
	theme  *theme.Theme
}

// NewStyledLogger creates a new styled logger with the given theme
func NewStyledLogger(logger *slog.Logger, theme *theme.Theme) *StyledLogger {
	return &StyledLogger{
		logger: logger,
		theme:  theme,
	}
}

func (sl *StyledLogger) Debug(msg string, args ...any) {
	sl.logger.Debug(msg, args...)
}

func (sl *StyledLogger) Info(msg string, args ...any) {
	sl.logger.Info(msg, args...)
}

func (sl *StyledLogger) Warn(msg string, args ...any) {
	sl.logger.Warn(msg, args...)
}

func (sl *StyledLogger) Error(msg string, args ...any) {
	sl.logger.Error(msg, args...)
}

func (sl *StyledLogger) InfoWithCount(msg string, count int, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, sl.theme.Highlight.Sprint("(", count, ")"))
	sl.logger.Info(styledMsg, args...)
}

func (sl *StyledLogger) InfoWithAddr(msg string, addr string, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, sl.theme.Accent.Sprint(addr))
	sl.logger.Info(styledMsg, args...)
}

func (sl *StyledLogger) WarnWithAddr(msg string, addr string, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, sl.theme.Accent.Sprint(addr))
	sl.logger.Warn(styledMsg, args...)
}

func (sl *StyledLogger) ErrorWithAddr(msg string, addr string, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, sl.theme.Accent.Sprint(addr))
	sl.logger.Error(styledMsg, args...)
}

func (sl *StyledLogger) InfoSuccess(msg string, args ...any) {
	styledMsg := sl.theme.Success.Sprint(msg)
	sl.logger.Info(styledMsg, args...)
}

// GetUnderlying returns the underlying slog.Logger for cases where direct access is needed
func (sl *StyledLogger) GetUnderlying() *slog.Logger {
	return sl.logger
}

// WithAttrs creates a new StyledLogger with additional structured attributes
func (sl *StyledLogger) WithAttrs(attrs ...slog.Attr) *StyledLogger {
	args := make([]any, 0, len(attrs)*2)
	for _, attr := range attrs {
		args = append(args, attr.Key, attr.Value)
	}

	return &StyledLogger{
		logger: sl.logger.With(args...),
		theme:  sl.theme,
	}
}

// With creates a new StyledLogger with additional key-value pairs
func (sl *StyledLogger) With(args ...any) *StyledLogger {
	return &StyledLogger{
		logger: sl.logger.With(args...),
		theme:  sl.theme,
	}
}

// Helper function to convert string slice to interface slice
func toInterfaceSlice(strs []string) []interface{} {
	result := make([]interface{}, len(strs))
	for i, s := range strs {
		result[i] = s
	}
	return result
}

// NewWithTheme creates both a regular logger and a styled logger
func NewWithTheme(cfg *Config) (*slog.Logger, *StyledLogger, func(), error) {
	logger, cleanup, err := New(cfg)
	if err != nil {
		return nil, nil, nil, err
	}

	appTheme := theme.GetTheme(cfg.Theme)
	styledLogger := NewStyledLogger(logger, appTheme)

	return logger, styledLogger, cleanup, nil
}
