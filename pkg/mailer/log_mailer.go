package mailer

import (
	"context"

	"go.uber.org/zap"
)

// LogMailer writes messages to the logger instead of delivering them. Passwords are never logged.
type LogMailer struct {
	logger *zap.Logger
}

// NewLogMailer constructs a LogMailer.
func NewLogMailer(logger *zap.Logger) *LogMailer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogMailer{logger: logger}
}

// SendCredentials implements Mailer.
func (m *LogMailer) SendCredentials(ctx context.Context, creds Credentials) error {
	if _, err := renderCredentials(creds); err != nil {
		return err
	}
	m.logger.Info("credentials mail",
		zap.String("to", creds.Email),
		zap.String("role", creds.Role),
		zap.String("subject", credentialsSubject),
	)
	return nil
}
