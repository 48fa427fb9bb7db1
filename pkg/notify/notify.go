// Package notify is the optional Slack webhook sink for circuit-breaker
// state transitions and terminal job failures. It is disabled unless
// explicitly configured, so it never becomes a hidden dependency of the
// core contract — callers hold a Notifier interface and the no-op
// implementation is wired in whenever Slack isn't configured.
package notify

import (
	"os"

	"github.com/go-logr/logr"
	"github.com/slack-go/slack"

	apperrors "github.com/binsight/core/internal/errors"
)

// Notifier is the sink the rest of the core depends on; Slack and no-op
// both satisfy it so callers never branch on configuration.
type Notifier interface {
	NotifyBreakerOpen(providerID, reason string) error
	NotifyJobFailed(jobID, owner, code, message string) error
}

// NoOp discards every notification; the default when Slack isn't configured.
type NoOp struct{}

func (NoOp) NotifyBreakerOpen(providerID, reason string) error        { return nil }
func (NoOp) NotifyJobFailed(jobID, owner, code, message string) error { return nil }

// Slack posts to a configured incoming webhook.
type Slack struct {
	webhookURL string
	channel    string
	logger     logr.Logger
}

// NewSlack builds a Slack notifier. webhookEnv names the environment
// variable holding the webhook URL, kept out of YAML config so it never
// lands in a committed file.
func NewSlack(webhookEnv, channel string, logger logr.Logger) (*Slack, error) {
	url := os.Getenv(webhookEnv)
	if url == "" {
		return nil, apperrors.NewValidationError("slack notify enabled but webhook env var is unset").WithDetailsf("env: %s", webhookEnv)
	}
	return &Slack{webhookURL: url, channel: channel, logger: logger}, nil
}

func (s *Slack) NotifyBreakerOpen(providerID, reason string) error {
	msg := &slack.WebhookMessage{
		Channel: s.channel,
		Text:    "circuit breaker opened for provider `" + providerID + "`: " + reason,
	}
	return s.post(msg)
}

func (s *Slack) NotifyJobFailed(jobID, owner, code, message string) error {
	msg := &slack.WebhookMessage{
		Channel: s.channel,
		Text:    "job `" + jobID + "` (owner `" + owner + "`) failed: [" + code + "] " + message,
	}
	return s.post(msg)
}

func (s *Slack) post(msg *slack.WebhookMessage) error {
	if err := slack.PostWebhook(s.webhookURL, msg); err != nil {
		s.logger.Error(err, "notify: slack webhook post failed")
		return apperrors.Wrap(err, apperrors.ErrorTypeNetwork, "post slack webhook")
	}
	return nil
}
