package mailer

import (
	"context"

	"go.uber.org/zap"

	"github.com/noah-isme/school-bulletin-api/pkg/jobs"
)

// QueuedMailer hands credentials to a background queue so provisioning requests do not wait on
// the mail provider. Delivery failures are retried by the queue.
type QueuedMailer struct {
	queue  *jobs.Queue[Credentials]
	logger *zap.Logger
}

// NewQueuedMailer wraps next. Start and Stop control the worker pool.
func NewQueuedMailer(next Mailer, cfg jobs.Config) *QueuedMailer {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	deliver := func(ctx context.Context, job jobs.Job[Credentials]) error {
		return next.SendCredentials(ctx, job.Payload)
	}
	return &QueuedMailer{
		queue:  jobs.New("credentials-mail", deliver, cfg),
		logger: cfg.Logger,
	}
}

// Start launches the delivery workers.
func (m *QueuedMailer) Start(ctx context.Context) {
	m.queue.Start(ctx)
}

// Stop flushes pending mail and stops the workers.
func (m *QueuedMailer) Stop() {
	m.queue.Stop()
}

// SendCredentials implements Mailer. It only fails when the queue is not accepting jobs.
func (m *QueuedMailer) SendCredentials(ctx context.Context, creds Credentials) error {
	id, err := m.queue.Enqueue(creds)
	if err != nil {
		return err
	}
	m.logger.Debug("credentials mail queued", zap.String("job_id", id), zap.String("to", creds.Email))
	return nil
}
