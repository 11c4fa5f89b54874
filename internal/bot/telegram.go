package bot

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// maxDownload limits photo downloads.
const maxDownload = 20 << 20

// Telegram is the Messenger backed by the Bot API.
type Telegram struct {
	api        *tgbotapi.BotAPI
	httpClient *http.Client
}

// NewTelegram authorizes the bot token.
func NewTelegram(token string, debug bool) (*Telegram, error) {
	if token == "" {
		return nil, fmt.Errorf("telegram token required (TELEGRAM_TOKEN)")
	}
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("authorize bot: %w", err)
	}
	api.Debug = debug

	return &Telegram{
		api:        api,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}, nil
}

// UserName returns the bot account name.
func (t *Telegram) UserName() string {
	return t.api.Self.UserName
}

// SendText sends a plain text message.
func (t *Telegram) SendText(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	_, err := t.api.Send(msg)
	return err
}

// SendPhoto uploads an image.
func (t *Telegram) SendPhoto(chatID int64, name string, data []byte, caption string) error {
	photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileBytes{Name: name, Bytes: data})
	photo.Caption = caption
	_, err := t.api.Send(photo)
	return err
}

// Download fetches an uploaded file.
func (t *Telegram) Download(ctx context.Context, fileID string) ([]byte, error) {
	file, err := t.api.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		return nil, fmt.Errorf("get file: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, file.Link(t.api.Token), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download file: HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownload))
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return data, nil
}

// Run polls for updates until ctx is cancelled.
func (b *Bot) Run(ctx context.Context, t *Telegram) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = b.cfg.Bot.PollTimeout

	updates := t.api.GetUpdatesChan(u)
	defer t.api.StopReceivingUpdates()

	b.logger.Info("bot started", "account", t.UserName())

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("bot stopped")
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil {
				continue
			}
			b.logger.Debug("message received",
				slog.Int64("chat_id", update.Message.Chat.ID),
				slog.String("text", update.Message.Text))
			b.HandleMessage(ctx, update.Message)
		}
	}
}

var _ Messenger = (*Telegram)(nil)
