package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"
)

const arkBackendName = "ark"

// ArkBackend runs generation through an eino chain: a system/user chat
// template feeding a Volcengine Ark chat model.
type ArkBackend struct {
	chain   compose.Runnable[map[string]any, *schema.Message]
	model   string
	timeout time.Duration
	logger  zerolog.Logger
}

var (
	_ Backend   = (*ArkBackend)(nil)
	_ Describer = (*ArkBackend)(nil)
)

// NewArkBackend compiles the chat chain around chatModel.
func NewArkBackend(ctx context.Context, chatModel model.BaseChatModel, modelName string, timeout time.Duration, logger zerolog.Logger) (*ArkBackend, error) {
	if chatModel == nil {
		return nil, errors.New("ark chat model is required")
	}

	template := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(template)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile chat chain: %w", err)
	}

	return &ArkBackend{
		chain:   runnable,
		model:   modelName,
		timeout: timeout,
		logger:  logger.With().Str("backend", arkBackendName).Logger(),
	}, nil
}

func (b *ArkBackend) Name() string { return arkBackendName }

func (b *ArkBackend) Generate(ctx context.Context, req Request) (text string, err error) {
	defer recoverGenError(arkBackendName, &text, &err)

	ctx, cancel := withTimeout(ctx, b.timeout)
	defer cancel()

	input := map[string]any{
		"system": req.SystemPrompt,
		"query":  req.UserText,
	}

	start := time.Now()
	msg, err := b.chain.Invoke(ctx, input, compose.WithChatModelOption(
		model.WithMaxTokens(req.MaxTokens),
		model.WithTemperature(float32(req.Temperature)),
	))
	if err != nil {
		return "", newGenError(arkBackendName, classifyTransportError(ctx, err), fmt.Errorf("run chat chain: %w", err))
	}
	if msg == nil {
		return "", newGenError(arkBackendName, KindMalformedResponse, errors.New("chat chain returned no message"))
	}

	b.logger.Debug().
		Int("response_length", len(msg.Content)).
		Dur("latency", time.Since(start)).
		Msg("ark generation finished")

	content := strings.TrimSpace(msg.Content)
	if content == "" {
		return "", newGenError(arkBackendName, KindEmptyResponse, errors.New("ark returned empty content"))
	}
	return content, nil
}

// IsAvailable is true once the chain is compiled; Ark has no cheap probe endpoint.
func (b *ArkBackend) IsAvailable(context.Context) bool {
	return b.chain != nil
}

func (b *ArkBackend) Describe() string {
	return fmt.Sprintf("Ark model: %s, Timeout: %s", b.model, b.timeout)
}

func (b *ArkBackend) Close() error { return nil }
