package notifications

import (
	"context"
	"log/slog"
)

// LogNotifier stands in when no broker is configured (dev, tests).
type LogNotifier struct {
	log *slog.Logger
}

func NewLogNotifier(log *slog.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) SendAgencyNameChange(ctx context.Context, in AgencyNameChangeInput) error {
	n.log.InfoContext(ctx, "notification.agency_name_change",
		"channel", AgencyNameChangeChannel,
		"payload", in.Payload(),
	)
	return nil
}
