//go:build e2e

package e2e

import (
	"context"
	"os"
	"testing"

	"github.com/fgeck/couchdb-backup/internal/models"
	"github.com/fgeck/couchdb-backup/internal/services/telegram"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getTelegramConfig(t *testing.T) models.TelegramConfig {
	t.Helper()

	botToken := os.Getenv("TEST_TELEGRAM_BOT_TOKEN")
	if botToken == "" {
		t.Skip("TEST_TELEGRAM_BOT_TOKEN not set")
	}

	chatID := os.Getenv("TEST_TELEGRAM_CHAT_ID")
	if chatID == "" {
		t.Skip("TEST_TELEGRAM_CHAT_ID not set")
	}

	return models.TelegramConfig{
		BotToken: botToken,
		ChatID:   chatID,
	}
}

func TestTelegramSendSummary_E2E(t *testing.T) {
	cfg := getTelegramConfig(t)

	svc := telegram.New(testLogger())

	text := "e2e-alpha: 0.12 MB\ne2e-beta: 3.40 MB\nTotal backup directory size: 3.52 MB"
	result, err := svc.SendNotification(context.Background(), cfg, text)

	require.NoError(t, err)
	assert.True(t, result.MessageSent)
	assert.Nil(t, result.Error)
}

func TestTelegramSendFailureNotice_E2E(t *testing.T) {
	cfg := getTelegramConfig(t)

	svc := telegram.New(testLogger())

	result, err := svc.SendNotification(context.Background(), cfg, "Backup failed during transport step. Check the logs for details.")

	require.NoError(t, err)
	assert.True(t, result.MessageSent)
}

func TestTelegramInvalidToken_E2E(t *testing.T) {
	if os.Getenv("TEST_TELEGRAM_BOT_TOKEN") == "" {
		t.Skip("TEST_TELEGRAM_BOT_TOKEN not set")
	}

	cfg := models.TelegramConfig{
		BotToken: "invalid:token",
		ChatID:   "123456",
	}

	svc := telegram.New(testLogger())

	result, err := svc.SendNotification(context.Background(), cfg, "should not be delivered")

	require.NoError(t, err)
	assert.False(t, result.MessageSent)
	assert.ErrorIs(t, result.Error, models.ErrNotification)
}
