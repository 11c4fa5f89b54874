// Package bot is the Telegram front end. Each chat owns a session holding its
// screen calibration and the last identification report.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	coinid "github.com/menta2k/coin-id"
	"github.com/menta2k/coin-id/internal/config"
	"github.com/menta2k/coin-id/internal/session"
	"github.com/menta2k/coin-id/pkg/calibration"
	"github.com/menta2k/coin-id/pkg/processing"
)

const (
	msgStart = `👋 Hi! I identify coins from photos.

1️⃣ /circle shows the measuring circle. Open it full screen on this device.
2️⃣ Put a 1 € or 2 € coin on the screen and adjust the circle with /size until it fits.
3️⃣ Confirm with /calibrate eur1 or /calibrate eur2.
4️⃣ Put your coin on the screen, fit the circle again and send a photo of it.

/help lists all commands.`

	msgHelp = `ℹ️ Commands:
/circle - measuring circle at the current size
/size N - set the circle diameter in pixels (+N or -N adjusts it)
/calibrate eur1|eur2|MM - calibrate with a reference coin or a diameter in mm
/scale PPI - set the display density directly, in pixels per inch
/measure - diameter of the current circle
/references - built-in reference coins
/result - show the last identification again
/reset - start a new analysis, the calibration is kept

📸 Send a photo of the coin to identify it.`

	msgSendPhoto      = "📸 Please send a photo of the coin."
	msgUnknownCommand = "❓ Unknown command. Use /help."
	msgProcessing     = "⏳ Analysing the coin, this can take a while..."
	msgProcessingErr  = "⚠️ Could not process the image. Please try another photo."
	msgUnavailable    = "⚠️ Identification is not available right now."
	msgSessionErr     = "⚠️ Your session could not be loaded. Please try again."
	msgReset          = "🔄 Ready for a new analysis. Your calibration is kept."
	msgNoResult       = "No identification yet. Send a photo of a coin."
	msgSizeUsage      = "Usage: /size 320, /size +10 or /size -10"
	msgCalibrateUsage = "Usage: /calibrate eur1, /calibrate eur2 or /calibrate 24.25"
	msgScaleUsage     = "Usage: /scale 160 (pixels per inch of your display)"
)

// Messenger sends replies and fetches uploaded files.
type Messenger interface {
	SendText(chatID int64, text string) error
	SendPhoto(chatID int64, name string, data []byte, caption string) error
	Download(ctx context.Context, fileID string) ([]byte, error)
}

// Identifier runs the identification of an uploaded photo.
type Identifier interface {
	IdentifyBytes(ctx context.Context, data []byte, m calibration.Measurement) (*coinid.Report, error)
}

// Bot handles Telegram messages.
type Bot struct {
	messenger  Messenger
	sessions   session.Repository
	identifier Identifier
	cfg        *config.Config
	logger     *slog.Logger
}

// New creates a bot. identifier may be nil, photos are then declined.
func New(m Messenger, sessions session.Repository, identifier Identifier, cfg *config.Config, logger *slog.Logger) *Bot {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bot{
		messenger:  m,
		sessions:   sessions,
		identifier: identifier,
		cfg:        cfg,
		logger:     logger.With("component", "bot"),
	}
}

// SessionID maps a chat to its session.
func SessionID(chatID int64) string {
	return "tg:" + strconv.FormatInt(chatID, 10)
}

// HandleMessage processes one incoming message.
func (b *Bot) HandleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg == nil || msg.Chat == nil {
		return
	}
	chatID := msg.Chat.ID

	sess, err := session.LoadOrCreate(ctx, b.sessions, SessionID(chatID), *b.cfg.NewCalibration())
	if err != nil {
		b.logger.Error("load session", "chat_id", chatID, "error", err)
		b.send(chatID, msgSessionErr)
		return
	}

	if msg.IsCommand() {
		b.handleCommand(ctx, msg, sess)
		return
	}

	if fileID, ok := imageFileID(msg); ok {
		b.handlePhoto(ctx, chatID, fileID, sess)
		return
	}

	b.send(chatID, msgSendPhoto)
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message, sess *session.Session) {
	chatID := msg.Chat.ID
	args := strings.TrimSpace(msg.CommandArguments())

	switch msg.Command() {
	case "start":
		b.send(chatID, msgStart)

	case "help":
		b.send(chatID, msgHelp)

	case "size":
		px, err := parseSize(args, sess.Calibration.CircleSizePx)
		if err != nil {
			b.send(chatID, msgSizeUsage)
			return
		}
		if err := sess.Calibration.SetCircleSize(b.cfg.ClampCircle(px)); err != nil {
			b.send(chatID, msgSizeUsage)
			return
		}
		if !b.save(ctx, chatID, sess) {
			return
		}
		b.send(chatID, formatMeasurement(sess.Calibration.Measure()))

	case "calibrate":
		if err := calibrate(&sess.Calibration, args); err != nil {
			b.logger.Debug("calibration rejected", "chat_id", chatID, "args", args, "error", err)
			b.send(chatID, msgCalibrateUsage)
			return
		}
		if !b.save(ctx, chatID, sess) {
			return
		}
		b.send(chatID, formatCalibration(sess.Calibration))

	case "scale":
		ppi, err := strconv.ParseFloat(strings.ReplaceAll(args, ",", "."), 64)
		if err != nil {
			b.send(chatID, msgScaleUsage)
			return
		}
		if err := sess.Calibration.SetScale(ppi); err != nil {
			b.logger.Debug("scale rejected", "chat_id", chatID, "args", args, "error", err)
			b.send(chatID, msgScaleUsage)
			return
		}
		if !b.save(ctx, chatID, sess) {
			return
		}
		b.send(chatID, formatCalibration(sess.Calibration))

	case "measure":
		b.send(chatID, formatMeasurement(sess.Calibration.Measure()))

	case "references":
		b.send(chatID, formatReferences())

	case "circle":
		b.sendCircle(chatID, sess.Calibration.CircleSizePx)

	case "result":
		if sess.LastResult == nil {
			b.send(chatID, msgNoResult)
			return
		}
		b.send(chatID, FormatReport(sess.LastResult))

	case "reset":
		sess.ResetResult()
		if !b.save(ctx, chatID, sess) {
			return
		}
		b.send(chatID, msgReset)

	default:
		b.send(chatID, msgUnknownCommand)
	}
}

func (b *Bot) handlePhoto(ctx context.Context, chatID int64, fileID string, sess *session.Session) {
	if b.identifier == nil {
		b.send(chatID, msgUnavailable)
		return
	}

	b.send(chatID, msgProcessing)

	data, err := b.messenger.Download(ctx, fileID)
	if err != nil {
		b.logger.Error("download photo", "chat_id", chatID, "error", err)
		b.send(chatID, msgProcessingErr)
		return
	}

	m := sess.Calibration.Measure()
	b.logger.Info("photo received", "chat_id", chatID, "bytes", len(data), "diameter", m.String())

	report, err := b.identifier.IdentifyBytes(ctx, data, m)
	if err != nil {
		b.logger.Error("identify photo", "chat_id", chatID, "error", err)
		b.send(chatID, msgProcessingErr)
		return
	}

	sess.SetResult(report)
	b.save(ctx, chatID, sess)
	b.send(chatID, FormatReport(report))
}

func (b *Bot) sendCircle(chatID int64, px int) {
	px = b.cfg.ClampCircle(px)
	img, err := processing.RenderCalibrationCircle(px)
	if err != nil {
		b.logger.Error("render circle", "px", px, "error", err)
		return
	}
	data, err := processing.NewProcessor().EncodeImage(img, "png", 0, 0)
	if err != nil {
		b.logger.Error("encode circle", "px", px, "error", err)
		return
	}
	caption := fmt.Sprintf("Circle %d px. Show it at 100%% zoom.", px)
	if err := b.messenger.SendPhoto(chatID, fmt.Sprintf("circle-%d.png", px), data, caption); err != nil {
		b.logger.Error("send circle", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) save(ctx context.Context, chatID int64, sess *session.Session) bool {
	if err := b.sessions.Save(ctx, sess); err != nil {
		b.logger.Error("save session", "chat_id", chatID, "error", err)
		b.send(chatID, msgSessionErr)
		return false
	}
	return true
}

func (b *Bot) send(chatID int64, text string) {
	if err := b.messenger.SendText(chatID, text); err != nil {
		b.logger.Error("send message", "chat_id", chatID, "error", err)
	}
}

// imageFileID returns the largest photo size or an image document.
func imageFileID(msg *tgbotapi.Message) (string, bool) {
	if len(msg.Photo) > 0 {
		return msg.Photo[len(msg.Photo)-1].FileID, true
	}
	if msg.Document != nil && strings.HasPrefix(msg.Document.MimeType, "image/") {
		return msg.Document.FileID, true
	}
	return "", false
}

// parseSize reads an absolute size or a +N/-N adjustment of current.
func parseSize(args string, current int) (int, error) {
	if args == "" {
		return 0, fmt.Errorf("missing size")
	}
	relative := args[0] == '+' || args[0] == '-'
	n, err := strconv.Atoi(args)
	if err != nil {
		return 0, err
	}
	if relative {
		return current + n, nil
	}
	return n, nil
}

// calibrate applies a built-in reference key or a custom diameter in mm.
func calibrate(state *calibration.State, args string) error {
	ref, err := calibration.ParseReference(args)
	if err != nil {
		return err
	}
	return state.Calibrate(ref)
}
