package notify

import (
	"context"

	"go.uber.org/zap"
)

// LogSender writes messages to the application log. Used in development.
type LogSender struct {
	logger *zap.Logger
}

// NewLogSender constructs a LogSender.
func NewLogSender(logger *zap.Logger) *LogSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSender{logger: logger}
}

// Send logs the rendered message.
func (s *LogSender) Send(_ context.Context, msg Message) error {
	subject, body, err := Render(msg)
	if err != nil {
		return err
	}
	s.logger.Info("mail",
		zap.String("to", msg.To),
		zap.String("kind", string(msg.Kind)),
		zap.String("subject", subject),
		zap.String("body", body),
	)
	return nil
}
