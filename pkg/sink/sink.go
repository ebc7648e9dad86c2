// Package sink delivers digest artifacts and outcome notices to the person
// who asked for them.
package sink

import (
	"context"
	"fmt"

	"xdigest/pkg/logger"
)

// Sink sends messages and files to a recipient. The recipient format is
// sink specific: a Discord user id, a Telegram chat id, or any label for LogSink.
type Sink interface {
	SendText(ctx context.Context, recipient, text string) error
	SendDocument(ctx context.Context, recipient, path, caption string) error
}

// Outcome names understood by Deliver
const (
	OutcomeSuccess           = "SUCCESS"
	OutcomeQuotaExceeded     = "QUOTA_EXCEEDED"
	OutcomeNoAccounts        = "NO_ACCOUNTS"
	OutcomeEmptyToday        = "EMPTY_TODAY"
	OutcomeDigestWriteFailed = "DIGEST_WRITE_FAILED"
)

// DocumentCaption is attached to every delivered digest
const DocumentCaption = "All posts for today 📄"

// Notice describes a finished run for delivery
type Notice struct {
	Outcome  string
	Handle   string
	Artifact string
}

// Message returns the text sent for outcomes that carry no document
func (n Notice) Message() string {
	switch n.Outcome {
	case OutcomeQuotaExceeded:
		return "You have reached today's request limit. Please try again tomorrow."
	case OutcomeNoAccounts:
		return fmt.Sprintf("No following profiles found for user: %s", n.Handle)
	case OutcomeEmptyToday:
		return "No posts found for today 😕"
	case OutcomeDigestWriteFailed:
		return "Something went wrong while preparing your digest. Please try again later."
	default:
		return ""
	}
}

// Deliver sends the notice: the digest file on success, a short text otherwise
func Deliver(ctx context.Context, s Sink, recipient string, n Notice) error {
	if s == nil {
		return nil
	}
	if n.Outcome == OutcomeSuccess && n.Artifact != "" {
		return s.SendDocument(ctx, recipient, n.Artifact, DocumentCaption)
	}
	msg := n.Message()
	if msg == "" {
		return fmt.Errorf("no message for outcome %q", n.Outcome)
	}
	return s.SendText(ctx, recipient, msg)
}

// LogSink writes deliveries to the log
type LogSink struct {
	logger logger.Logger
}

// NewLogSink creates a sink that only logs
func NewLogSink(log logger.Logger) *LogSink {
	return &LogSink{logger: logger.OrGlobal(log).WithField("component", "sink")}
}

func (s *LogSink) SendText(_ context.Context, recipient, text string) error {
	s.logger.InfoWithFields(text, map[string]interface{}{
		"recipient": recipient,
	})
	return nil
}

func (s *LogSink) SendDocument(_ context.Context, recipient, path, caption string) error {
	s.logger.InfoWithFields(caption, map[string]interface{}{
		"recipient": recipient,
		"path":      path,
	})
	return nil
}
