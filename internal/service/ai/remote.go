package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"
	"golang.org/x/sync/singleflight"
)

const (
	remoteBackendName = "remote"
	probeTimeout      = 5 * time.Second
	maxErrorBody      = 256
)

// RemoteConfig configures an OpenAI-compatible chat-completion endpoint.
type RemoteConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// RemoteBackend talks to an OpenAI-compatible server such as the GPT4All
// local API server, LM Studio, Ollama or a hosted provider.
type RemoteBackend struct {
	client *resty.Client
	cfg    RemoteConfig
	probes singleflight.Group
	logger zerolog.Logger
}

var (
	_ Backend     = (*RemoteBackend)(nil)
	_ ModelLister = (*RemoteBackend)(nil)
	_ Describer   = (*RemoteBackend)(nil)
)

// NewRemoteBackend creates a backend for cfg.BaseURL.
func NewRemoteBackend(cfg RemoteConfig, logger zerolog.Logger) *RemoteBackend {
	cfg.BaseURL = normalizeBaseURL(cfg.BaseURL)

	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if cfg.APIKey != "" {
		client.SetAuthToken(cfg.APIKey)
	}

	return &RemoteBackend{
		client: client,
		cfg:    cfg,
		logger: logger.With().Str("backend", remoteBackendName).Logger(),
	}
}

func (b *RemoteBackend) Name() string { return remoteBackendName }

// Generate posts a chat-completion request and returns choices[0].message.content.
func (b *RemoteBackend) Generate(ctx context.Context, req Request) (text string, err error) {
	defer recoverGenError(remoteBackendName, &text, &err)

	ctx, cancel := withTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	body := openai.ChatCompletionRequest{
		Model:       b.cfg.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: float32(req.Temperature),
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.SystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: req.UserText},
		},
	}

	start := time.Now()
	resp, err := b.client.R().
		SetContext(ctx).
		SetBody(body).
		Post("/chat/completions")
	if err != nil {
		return "", newGenError(remoteBackendName, classifyTransportError(ctx, err), err)
	}

	b.logger.Debug().
		Int("status", resp.StatusCode()).
		Dur("latency", time.Since(start)).
		Msg("chat completion returned")

	if resp.IsError() {
		return "", newGenError(remoteBackendName, classifyStatus(resp.StatusCode()),
			fmt.Errorf("chat completion failed with status %d: %s", resp.StatusCode(), truncate(resp.String(), maxErrorBody)))
	}

	var completion openai.ChatCompletionResponse
	if err := json.Unmarshal(resp.Body(), &completion); err != nil {
		return "", newGenError(remoteBackendName, KindMalformedResponse, fmt.Errorf("decode chat completion: %w", err))
	}
	if len(completion.Choices) == 0 {
		return "", newGenError(remoteBackendName, KindMalformedResponse, errors.New("chat completion has no choices"))
	}

	content := strings.TrimSpace(completion.Choices[0].Message.Content)
	if content == "" {
		return "", newGenError(remoteBackendName, KindEmptyResponse, errors.New("chat completion content is empty"))
	}
	return content, nil
}

// IsAvailable probes GET /models and reports whether it answered 200.
// Concurrent probes share a single request.
func (b *RemoteBackend) IsAvailable(ctx context.Context) bool {
	v, _, _ := b.probes.Do("models", func() (any, error) {
		probeCtx, cancel := withTimeout(context.WithoutCancel(ctx), b.probeTimeout())
		defer cancel()

		resp, err := b.client.R().SetContext(probeCtx).Get("/models")
		if err != nil {
			b.logger.Warn().Err(err).Msg("availability probe failed")
			return false, nil
		}
		if resp.StatusCode() != http.StatusOK {
			b.logger.Warn().Int("status", resp.StatusCode()).Msg("availability probe rejected")
			return false, nil
		}
		return true, nil
	})
	ok, _ := v.(bool)
	return ok
}

// Models lists the model ids advertised under GET /models.
func (b *RemoteBackend) Models(ctx context.Context) ([]string, error) {
	ctx, cancel := withTimeout(ctx, b.probeTimeout())
	defer cancel()

	resp, err := b.client.R().SetContext(ctx).Get("/models")
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("list models failed with status %d", resp.StatusCode())
	}

	var list openai.ModelsList
	if err := json.Unmarshal(resp.Body(), &list); err != nil {
		return nil, fmt.Errorf("decode models: %w", err)
	}

	ids := make([]string, 0, len(list.Models))
	for _, m := range list.Models {
		if m.ID != "" {
			ids = append(ids, m.ID)
		}
	}
	return ids, nil
}

func (b *RemoteBackend) Describe() string {
	return fmt.Sprintf("API URL: %s, Model: %s, Timeout: %s", b.cfg.BaseURL, b.cfg.Model, b.cfg.Timeout)
}

func (b *RemoteBackend) Close() error {
	b.client.GetClient().CloseIdleConnections()
	return nil
}

func (b *RemoteBackend) probeTimeout() time.Duration {
	if b.cfg.Timeout > 0 && b.cfg.Timeout < probeTimeout {
		return b.cfg.Timeout
	}
	return probeTimeout
}

func classifyTransportError(ctx context.Context, err error) Kind {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return KindUnavailable
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return KindUnavailable
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return KindUnavailable
	}
	return KindUnknown
}

func classifyStatus(status int) Kind {
	switch status {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return KindUnavailable
	default:
		return KindUnknown
	}
}

func normalizeBaseURL(raw string) string {
	return strings.TrimRight(strings.TrimSpace(raw), "/")
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
