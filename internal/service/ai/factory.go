package ai

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/zhouzirui/solace/backend/internal/config"
)

// NewBackend builds the backend selected by cfg.Backend.
func NewBackend(ctx context.Context, cfg config.AIConfig, logger zerolog.Logger) (Backend, error) {
	switch cfg.Backend {
	case config.BackendRemote, "":
		return NewRemoteBackend(RemoteConfig{
			BaseURL: cfg.BaseURL,
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			Timeout: cfg.Timeout,
		}, logger), nil
	case config.BackendLocal:
		local, err := NewLocalBackend(LlamaCppEngine{Binary: cfg.LocalBinary}, LocalConfig{
			ModelPath: cfg.LocalModelPath,
			Timeout:   cfg.Timeout,
		}, logger)
		if err != nil {
			return nil, err
		}
		return local, nil
	case config.BackendArk:
		chatModel, err := cfg.NewArkChatModel(ctx)
		if err != nil {
			return nil, fmt.Errorf("create ark chat model: %w", err)
		}
		arkBackend, err := NewArkBackend(ctx, chatModel, cfg.ArkModel, cfg.Timeout, logger)
		if err != nil {
			return nil, err
		}
		return arkBackend, nil
	default:
		return nil, fmt.Errorf("unsupported AI backend %q", cfg.Backend)
	}
}
