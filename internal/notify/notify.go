// Package notify sends an operator-facing Slack notification when a run
// reaches a terminal state an operator should look at: completed with
// dead-letters, or failed (spec.md §7's user-visible behavior paragraph).
package notify

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"
	"go.uber.org/zap"

	"github.com/korrelate/triangulate/internal/store"
)

// webhookPoster is the slice of slack-go this package depends on, so
// tests can substitute a fake without hitting the network.
type webhookPoster func(ctx context.Context, url string, msg *slack.WebhookMessage) error

// Notifier posts run-completion notifications to a Slack webhook.
type Notifier struct {
	webhookURL string
	channel    string
	post       webhookPoster
	logger     *zap.Logger
}

func NewNotifier(webhookURL, channel string, logger *zap.Logger) *Notifier {
	return &Notifier{
		webhookURL: webhookURL,
		channel:    channel,
		post:       slack.PostWebhookContext,
		logger:     logger,
	}
}

// NotifyTerminal posts a message for run if its status warrants operator
// attention (completed-with-dead-letters or failed); a plain completed
// run is silent. A missing webhook URL is a no-op, not an error — Slack
// notification is an optional ambient concern, not a run-correctness
// requirement.
func (n *Notifier) NotifyTerminal(ctx context.Context, run store.Run) error {
	if n.webhookURL == "" {
		return nil
	}

	var text string
	switch run.Status {
	case store.RunStatusCompletedWithDeadLetters:
		text = fmt.Sprintf(":warning: run `%s` completed with %d dead-lettered job(s) out of %d total",
			run.ID, run.DeadLetterJobs, run.TotalJobs)
	case store.RunStatusFailed:
		text = fmt.Sprintf(":x: run `%s` failed (%d/%d jobs completed)", run.ID, run.CompletedJobs, run.TotalJobs)
	default:
		return nil
	}

	err := n.post(ctx, n.webhookURL, &slack.WebhookMessage{Channel: n.channel, Text: text})
	if err != nil {
		n.logger.Warn("slack notification failed", zap.String("run_id", run.ID), zap.Error(err))
	}
	return err
}
