package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

const localBackendName = "local"

// Sampling values the local model is run with besides the request's own.
const (
	localTopK = 40
	localTopP = 0.9
)

// ErrModelClosed is returned by models used after Close.
var ErrModelClosed = errors.New("model is closed")

// PredictOptions are the sampling parameters passed to a local model.
type PredictOptions struct {
	MaxTokens   int
	Temperature float64
	TopK        int
	TopP        float64
}

// Model is a loaded local model handle. Implementations need not be reentrant.
type Model interface {
	Predict(ctx context.Context, prompt string, opts PredictOptions) (string, error)
	Close() error
}

// Engine loads model handles from disk.
type Engine interface {
	Load(path string) (Model, error)
}

// LocalConfig configures the in-process backend.
type LocalConfig struct {
	ModelPath string
	Timeout   time.Duration
}

// LocalBackend runs inference on a model loaded once at startup.
// Calls are serialized; the underlying model sees one prompt at a time.
type LocalBackend struct {
	model  Model
	cfg    LocalConfig
	logger zerolog.Logger

	// sem is a one-slot semaphore so waiting callers can still give up on their context.
	sem       chan struct{}
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

var (
	_ Backend   = (*LocalBackend)(nil)
	_ Describer = (*LocalBackend)(nil)
)

// NewLocalBackend loads cfg.ModelPath through engine.
func NewLocalBackend(engine Engine, cfg LocalConfig, logger zerolog.Logger) (*LocalBackend, error) {
	if strings.TrimSpace(cfg.ModelPath) == "" {
		return nil, errors.New("local model path is required")
	}

	logger = logger.With().Str("backend", localBackendName).Logger()
	logger.Info().Str("model_path", cfg.ModelPath).Msg("loading local model")

	model, err := engine.Load(cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("load local model %s: %w", cfg.ModelPath, err)
	}

	logger.Info().Msg("local model loaded")
	return &LocalBackend{
		model:  model,
		cfg:    cfg,
		logger: logger,
		sem:    make(chan struct{}, 1),
	}, nil
}

func (b *LocalBackend) Name() string { return localBackendName }

// Generate formats req into the instruction template and runs the model.
func (b *LocalBackend) Generate(ctx context.Context, req Request) (text string, err error) {
	defer recoverGenError(localBackendName, &text, &err)

	if b.closed.Load() {
		return "", newGenError(localBackendName, KindUnavailable, ErrModelClosed)
	}

	ctx, cancel := withTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	select {
	case b.sem <- struct{}{}:
	case <-ctx.Done():
		return "", newGenError(localBackendName, contextKind(ctx), ctx.Err())
	}
	defer func() { <-b.sem }()

	if b.closed.Load() {
		return "", newGenError(localBackendName, KindUnavailable, ErrModelClosed)
	}

	prompt := FormatInstruction(req.SystemPrompt, req.UserText)
	start := time.Now()
	out, err := b.model.Predict(ctx, prompt, PredictOptions{
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopK:        localTopK,
		TopP:        localTopP,
	})
	b.logger.Debug().
		Int("prompt_length", len(prompt)).
		Int("response_length", len(out)).
		Dur("latency", time.Since(start)).
		Msg("local inference finished")

	if err != nil {
		switch {
		case errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded):
			return "", newGenError(localBackendName, KindTimeout, err)
		case errors.Is(err, ErrModelClosed):
			return "", newGenError(localBackendName, KindUnavailable, err)
		default:
			return "", newGenError(localBackendName, KindUnknown, err)
		}
	}

	out = strings.TrimSpace(out)
	if out == "" {
		return "", newGenError(localBackendName, KindEmptyResponse, errors.New("local model produced no text"))
	}
	return out, nil
}

// IsAvailable reports whether the model handle is still loaded.
func (b *LocalBackend) IsAvailable(context.Context) bool {
	return !b.closed.Load()
}

func (b *LocalBackend) Describe() string {
	return fmt.Sprintf("Model path: %s, Timeout: %s", b.cfg.ModelPath, b.cfg.Timeout)
}

// Close waits for any in-flight call and releases the model handle once.
func (b *LocalBackend) Close() error {
	b.closeOnce.Do(func() {
		b.sem <- struct{}{}
		b.closed.Store(true)
		b.closeErr = b.model.Close()
		<-b.sem
		b.logger.Info().Msg("local model closed")
	})
	return b.closeErr
}

// FormatInstruction renders the [INST] template used by instruction-tuned local models.
func FormatInstruction(systemPrompt, userText string) string {
	var sb strings.Builder
	sb.WriteString("<s>[INST] ")
	sb.WriteString(systemPrompt)
	sb.WriteString("\n\n")
	sb.WriteString(userText)
	sb.WriteString(" [/INST]")
	return sb.String()
}

func contextKind(ctx context.Context) Kind {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindUnknown
}
