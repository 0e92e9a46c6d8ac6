package config

import (
	"context"
	"fmt"

	"github.com/cursorrunner/cursor-runner/internal/cloud/gcp"
)

// ResolveWebhookSecret fills in cfg.WebhookSecret from GCP Secret Manager
// when WebhookSecretName is set and WebhookSecret itself is still empty
// (an explicit webhook_secret value always wins over the secret reference).
func ResolveWebhookSecret(ctx context.Context, cfg *ServerConfig) error {
	if cfg.WebhookSecret != "" || cfg.WebhookSecretName == "" {
		return nil
	}

	client, err := gcp.NewSecretManagerClient(ctx)
	if err != nil {
		return fmt.Errorf("secret manager client: %w", err)
	}
	defer client.Close()

	secret, err := client.FetchSecret(ctx, cfg.WebhookSecretName)
	if err != nil {
		return fmt.Errorf("fetch webhook secret %q: %w", cfg.WebhookSecretName, err)
	}
	cfg.WebhookSecret = secret
	return nil
}
