package notify

import (
	"context"

	"github.com/dmitrijs2005/availwatch/internal/logging"
)

// LogSender records messages instead of delivering them. It is used when no
// apprise-api endpoint is configured.
type LogSender struct {
	log logging.Logger
}

func NewLogSender(log logging.Logger) *LogSender {
	return &LogSender{log: log.With("module", "notify")}
}

func (s *LogSender) Send(ctx context.Context, target string, msg Message) error {
	s.log.Info(ctx, "notification not delivered, no sender configured",
		"scheme", Scheme(target), "title", msg.Title, "format", string(msg.Format))
	return nil
}
