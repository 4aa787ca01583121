package notify

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramMessenger delivers notifications through a Telegram bot. Chat ids
// are Telegram user or group ids; for direct messages they equal the user id
// stored as the resource creator.
type TelegramMessenger struct {
	bot *tgbotapi.BotAPI
}

// NewTelegramMessenger authenticates the bot with the given token.
func NewTelegramMessenger(token string) (*TelegramMessenger, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	return &TelegramMessenger{bot: bot}, nil
}

func (m *TelegramMessenger) Name() string { return "telegram" }

func (m *TelegramMessenger) SendMessage(ctx context.Context, chatID int64, text string, actions []Action) error {
	msg := tgbotapi.NewMessage(chatID, text)
	if len(actions) > 0 {
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(actions))
		for _, a := range actions {
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(a.Label, a.Callback))
		}
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(buttons)
	}
	_, err := m.bot.Send(msg)
	return err
}

func (m *TelegramMessenger) SendDocument(ctx context.Context, chatID int64, filename string, content []byte, caption string) error {
	doc := tgbotapi.NewDocument(chatID, tgbotapi.FileBytes{Name: filename, Bytes: content})
	doc.Caption = caption
	_, err := m.bot.Send(doc)
	return err
}
