//go:build e2e

package e2e

import (
	"context"
	"os"
	"testing"

	"github.com/fgeck/couchdb-backup/internal/models"
	"github.com/fgeck/couchdb-backup/internal/services/webhook"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhookSendSummary_E2E(t *testing.T) {
	url := os.Getenv("TEST_WEBHOOK_URL")
	if url == "" {
		t.Skip("TEST_WEBHOOK_URL not set")
	}

	svc := webhook.New(testLogger())

	result, err := svc.SendNotification(context.Background(), models.WebhookConfig{URL: url},
		"e2e-alpha: 0.12 MB\nTotal backup directory size: 0.12 MB")

	require.NoError(t, err)
	assert.True(t, result.MessageSent)
	assert.Nil(t, result.Error)
}
