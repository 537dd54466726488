package notify

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	apperrors "idxwatch/internal/errors"
)

// LogNotifier delivers alerts to the structured log. It stands in for an
// outbound channel in deployments that scrape logs for alerting.
type LogNotifier struct {
	logger     *slog.Logger
	recipients []string
}

// NewLogNotifier builds a notifier writing to logger. recipients is carried
// into each alert record so log-based routing can fan out.
func NewLogNotifier(logger *slog.Logger, recipients []string) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{
		logger:     logger.With(slog.String("component", "notify")),
		recipients: recipients,
	}
}

func (n *LogNotifier) Notify(ctx context.Context, notification Notification) error {
	if err := ctx.Err(); err != nil {
		return apperrors.NewNotifyError("notification cancelled", err)
	}

	attrs := []slog.Attr{
		slog.String("kind", string(notification.Kind)),
		slog.String("max_severity", string(notification.MaxSeverity)),
		slog.Int("tables", notification.Tables),
		slog.Any("severity_counts", notification.SeverityCounts),
		slog.Any("status_counts", notification.StatusCounts),
		slog.Any("top_rules", notification.TopRules),
	}
	if notification.RunID != uuid.Nil {
		attrs = append(attrs, slog.String("run_id", notification.RunID.String()))
	}
	if notification.Runs > 0 {
		attrs = append(attrs, slog.Int("runs", notification.Runs))
	}
	recipients := notification.Recipients
	if len(recipients) == 0 {
		recipients = n.recipients
	}
	if len(recipients) > 0 {
		attrs = append(attrs, slog.Any("recipients", recipients))
	}

	msg := "validation anomalies detected"
	level := slog.LevelWarn
	if notification.Kind == KindDailySummary {
		msg = "daily validation summary"
		level = slog.LevelInfo
	}
	n.logger.LogAttrs(ctx, level, msg, attrs...)
	return nil
}
