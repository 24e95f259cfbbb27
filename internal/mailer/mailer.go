package mailer

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"procurehub/config"
)

// SendResult is what the transport reports per recipient.
type SendResult struct {
	Success   bool
	MessageID string
	Err       error
}

// Mailer is the outbound mail transport seam. Send delivers one message
// to one recipient; callers fan out and tolerate per-recipient failure.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) SendResult
}

// LogMailer is the development transport: it records the send instead of
// delivering it. The production deployment plugs a real transport behind
// the same interface.
type LogMailer struct {
	from   string
	logger *zap.Logger
}

func NewLogMailer(cfg config.MailerConfig, logger *zap.Logger) *LogMailer {
	from := cfg.FromAddress
	if cfg.FromName != "" {
		from = fmt.Sprintf("%s <%s>", cfg.FromName, cfg.FromAddress)
	}
	return &LogMailer{from: from, logger: logger}
}

func (m *LogMailer) Send(ctx context.Context, to, subject, body string) SendResult {
	m.logger.Info("Outbound mail (log transport)",
		zap.String("from", m.from),
		zap.String("to", to),
		zap.String("subject", subject),
		zap.Int("body_bytes", len(body)),
	)
	return SendResult{Success: true, MessageID: "log-" + to}
}
