package uploader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/kibotos/kibotos/internal/config"
	"github.com/kibotos/kibotos/internal/domain"
)

// telegramFileLimitMB is the bot API's upload ceiling; bigger archives fall
// back to a notification.
const telegramFileLimitMB = 50

// Telegram ships archives (or just completion notices) to a chat. It cannot
// list or delete what it sent, so it takes no part in remote retention.
type Telegram struct {
	domain.ErrorFlag

	bot        *tgbotapi.BotAPI
	chatID     int64
	sendFile   bool
	notifyOnly bool
	log        Logger
}

func NewTelegram(cfg *config.UploaderConfig, log Logger) (*Telegram, error) {
	chatID, err := strconv.ParseInt(cfg.ChatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid telegram chat id %q: %w", cfg.ChatID, err)
	}

	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	return &Telegram{
		bot:        bot,
		chatID:     chatID,
		sendFile:   cfg.SendFile,
		notifyOnly: cfg.NotifyOnly,
		log:        log,
	}, nil
}

func (t *Telegram) Name() string { return "Telegram" }

func (t *Telegram) SetupInstructions() string {
	return "Couldn't send to Telegram: check the bot token and chat id in the uploaders section"
}

func (t *Telegram) UploadFile(ctx context.Context, localPath string, destHint string) {
	info, err := os.Stat(localPath)
	if err != nil {
		t.log.Errorf("Failed to stat %q for Telegram: %v", localPath, err)
		t.SetError()
		return
	}

	sizeMB := float64(info.Size()) / (1024 * 1024)

	if t.notifyOnly || !t.sendFile || sizeMB > telegramFileLimitMB {
		message := fmt.Sprintf("Backup of %q created\nFile: %s\nSize: %.2f MB",
			destHint, filepath.Base(localPath), sizeMB)
		if _, err := t.bot.Send(tgbotapi.NewMessage(t.chatID, message)); err != nil {
			t.log.Errorf("Failed to send Telegram notification: %v", err)
			t.SetError()
		}
		return
	}

	doc := tgbotapi.NewDocument(t.chatID, tgbotapi.FilePath(localPath))
	doc.Caption = fmt.Sprintf("Backup of %q (%.2f MB)", destHint, sizeMB)
	if _, err := t.bot.Send(doc); err != nil {
		t.log.Errorf("Failed to send Telegram file: %v", err)
		t.SetError()
	}
}

func (t *Telegram) Test(ctx context.Context, localPath string) {
	message := fmt.Sprintf("Connectivity test: %s", filepath.Base(localPath))
	if _, err := t.bot.Send(tgbotapi.NewMessage(t.chatID, message)); err != nil {
		t.log.Errorf("Telegram test failed: %v", err)
		t.SetError()
	}
}

func (t *Telegram) Close() error { return nil }
