package models

// TelegramConfig holds Telegram notification configuration.
type TelegramConfig struct {
	BotToken string
	ChatID   string
}

// WebhookConfig holds the webhook notification target.
type WebhookConfig struct {
	URL string
}

// NotificationResult holds the result of a notification delivery.
type NotificationResult struct {
	MessageSent bool
	Error       error
}
