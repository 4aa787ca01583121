package notify

import (
	"context"

	"github.com/ebb-cloud/ebb/pkg/log"
)

// LogMessenger writes notifications to the log instead of a chat platform.
// Used when no bot token is configured, and in development.
type LogMessenger struct{}

func (LogMessenger) Name() string { return "log" }

func (LogMessenger) SendMessage(ctx context.Context, chatID int64, text string, actions []Action) error {
	logger := log.WithComponent("notify")
	logger.Info().
		Int64("chat_id", chatID).
		Int("actions", len(actions)).
		Msg(text)
	return nil
}

func (LogMessenger) SendDocument(ctx context.Context, chatID int64, filename string, content []byte, caption string) error {
	logger := log.WithComponent("notify")
	logger.Info().
		Int64("chat_id", chatID).
		Str("filename", filename).
		Int("bytes", len(content)).
		Msg(caption)
	return nil
}
