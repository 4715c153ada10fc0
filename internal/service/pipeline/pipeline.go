package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/zhouzirui/solace/backend/internal/analysis/risk"
	"github.com/zhouzirui/solace/backend/internal/model/conversation"
	"github.com/zhouzirui/solace/backend/internal/observability"
	"github.com/zhouzirui/solace/backend/internal/service/ai"
	"github.com/zhouzirui/solace/backend/internal/service/chat"
)

// Fixed replies used when no generated text is available.
const (
	UnavailableReply = "⚠️ AI service is not available. Please make sure the language model server is running and try again."
	FallbackReply    = "I'm here to listen. I'm having a brief technical difficulty, but please know that your wellbeing matters. If you're in crisis, please reach out to a crisis hotline or emergency services."
	ErrorReply       = "I'm having trouble connecting right now. Please try again in a moment."
)

var (
	ErrEmptyMessage = errors.New("message is empty")
	ErrUserRequired = errors.New("user id is required")
	ErrCancelled    = errors.New("request cancelled before the exchange was recorded")
	ErrUnsupported  = errors.New("operation not supported by the conversation store")
)

// PersistError reports that the reply was produced but the exchange was not fully recorded.
type PersistError struct {
	Role conversation.Role
	Err  error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("persist %s turn: %v", e.Role, e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }

// Stage is how far a message got through the pipeline.
type Stage string

const (
	StageReceived   Stage = "received"
	StageClassified Stage = "classified"
	StageGenerated  Stage = "generated"
	StageSanitized  Stage = "sanitized"
	StagePersisted  Stage = "persisted"
	StageDone       Stage = "done"
	StageFailed     Stage = "failed"
)

// Outcome names where the reply text came from.
type Outcome string

const (
	OutcomeGenerated   Outcome = "generated"
	OutcomeUnavailable Outcome = "unavailable"
	OutcomeFallback    Outcome = "fallback"
	OutcomeRecovered   Outcome = "recovered"
	OutcomeRejected    Outcome = "rejected"
	OutcomeCancelled   Outcome = "cancelled"
)

// Metric label for replies that could not be recorded.
const outcomePersistFailed = "persist_failed"

// Result is the outcome of one ProcessMessage call.
type Result struct {
	Reply   string
	Stage   Stage
	Risk    risk.Signal
	Outcome Outcome
}

// Metrics receives pipeline events.
type Metrics interface {
	MessageProcessed(outcome string)
	RiskDetected(indicator string)
	BackendFailed(backend, kind string)
	GenerationObserved(backend string, d time.Duration)
}

// Deps wires the pipeline. Sentiment and Metrics are optional.
type Deps struct {
	Classifier      *risk.Classifier
	Sentiment       *risk.SentimentAnalyzer
	Prompts         ai.PromptBuilder
	Backend         ai.Backend
	Sanitizer       ai.Sanitizer
	Store           chat.Store
	CrisisResources string
	Logger          zerolog.Logger
	Metrics         Metrics
}

// Pipeline turns a user message into a recorded reply.
type Pipeline struct {
	classifier *risk.Classifier
	sentiment  *risk.SentimentAnalyzer
	prompts    ai.PromptBuilder
	backend    ai.Backend
	sanitizer  ai.Sanitizer
	store      chat.Store
	crisis     string
	logger     zerolog.Logger
	metrics    Metrics
}

// New validates deps and builds a pipeline.
func New(deps Deps) (*Pipeline, error) {
	switch {
	case deps.Classifier == nil:
		return nil, errors.New("pipeline: classifier is required")
	case deps.Backend == nil:
		return nil, errors.New("pipeline: backend is required")
	case deps.Store == nil:
		return nil, errors.New("pipeline: store is required")
	}

	metrics := deps.Metrics
	if metrics == nil {
		metrics = observability.Prometheus{}
	}

	prompts := deps.Prompts
	if prompts == (ai.PromptBuilder{}) {
		prompts = ai.NewPromptBuilder(ai.DefaultMaxTokens, ai.DefaultTemperature, ai.DefaultWordLimit)
	} else if prompts.MaxTokens <= 0 || prompts.WordLimit <= 0 {
		prompts = ai.NewPromptBuilder(prompts.MaxTokens, prompts.Temperature, prompts.WordLimit)
	}

	return &Pipeline{
		classifier: deps.Classifier,
		sentiment:  deps.Sentiment,
		prompts:    prompts,
		backend:    deps.Backend,
		sanitizer:  deps.Sanitizer,
		store:      deps.Store,
		crisis:     strings.TrimSpace(deps.CrisisResources),
		logger:     observability.Component(deps.Logger, "pipeline"),
		metrics:    metrics,
	}, nil
}

// ProcessMessage classifies text, obtains a reply and records the exchange.
// Backend failures never surface as errors; they become fixed replies.
func (p *Pipeline) ProcessMessage(ctx context.Context, userID, text string) (res Result, err error) {
	res.Stage = StageReceived

	if strings.TrimSpace(userID) == "" {
		return p.reject(res, ErrUserRequired)
	}
	if strings.TrimSpace(text) == "" {
		return p.reject(res, ErrEmptyMessage)
	}

	logger := p.logger.With().Str("user_id", userID).Logger()

	defer func() {
		if r := recover(); r != nil {
			logger.Error().
				Interface("panic", r).
				Str("stage", string(res.Stage)).
				Bytes("stack", debug.Stack()).
				Msg("recovered panic while processing message")
			res = Result{
				Reply:   p.withCrisisBlock(ErrorReply, res.Risk),
				Stage:   StageFailed,
				Risk:    res.Risk,
				Outcome: OutcomeRecovered,
			}
			err = nil
			p.metrics.MessageProcessed(string(OutcomeRecovered))
		}
	}()

	signal := p.classifier.Classify(text)
	res.Risk = signal
	res.Stage = StageClassified

	event := logger.Info().
		Int("message_length", len(text)).
		Bool("crisis", signal.IsCrisis).
		Int("distress_score", signal.DistressScore)
	if p.sentiment != nil {
		event = event.Str("sentiment", string(p.sentiment.Analyze(text)))
	}
	event.Msg("message classified")

	if signal.IsCrisis {
		logger.Warn().
			Str("indicator", signal.Indicator()).
			Strs("matched_terms", signal.MatchedTerms).
			Int("distress_score", signal.DistressScore).
			Time("detected_at", time.Now().UTC()).
			Msg("crisis indicators detected")
		p.metrics.RiskDetected(signal.Indicator())
	}

	reply, outcome := p.generate(ctx, logger, signal, text)
	res.Outcome = outcome
	res.Stage = StageGenerated

	if outcome == OutcomeGenerated {
		reply = p.sanitizer.Sanitize(reply)
	}
	res.Reply = p.withCrisisBlock(reply, signal)
	res.Stage = StageSanitized

	if cause := context.Cause(ctx); cause != nil {
		logger.Info().Err(cause).Msg("request cancelled before persistence")
		res.Stage = StageFailed
		p.metrics.MessageProcessed(string(OutcomeCancelled))
		return res, fmt.Errorf("%w: %w", ErrCancelled, cause)
	}

	if err := p.persist(context.WithoutCancel(ctx), userID, text, res.Reply); err != nil {
		logger.Error().Err(err).Msg("failed to record exchange")
		res.Stage = StageFailed
		p.metrics.MessageProcessed(outcomePersistFailed)
		return res, err
	}
	res.Stage = StagePersisted
	logger.Debug().Msg("exchange recorded")

	res.Stage = StageDone
	p.metrics.MessageProcessed(string(outcome))
	logger.Debug().
		Str("outcome", string(outcome)).
		Int("reply_length", len(res.Reply)).
		Msg("message processed")
	return res, nil
}

// generate asks the backend for raw text, degrading to a fixed reply on any failure.
func (p *Pipeline) generate(ctx context.Context, logger zerolog.Logger, signal risk.Signal, text string) (string, Outcome) {
	name := p.backend.Name()

	if !p.backend.IsAvailable(ctx) {
		logger.Warn().Str("backend", name).Msg("generation backend unavailable")
		p.metrics.BackendFailed(name, string(ai.KindUnavailable))
		return UnavailableReply, OutcomeUnavailable
	}

	req := p.prompts.Build(signal, text)
	start := time.Now()
	raw, err := p.backend.Generate(ctx, req)
	p.metrics.GenerationObserved(name, time.Since(start))
	if err != nil {
		kind := ai.KindOf(err)
		logger.Warn().Err(err).Str("backend", name).Str("kind", string(kind)).Msg("generation failed")
		p.metrics.BackendFailed(name, string(kind))
		return FallbackReply, OutcomeFallback
	}

	return raw, OutcomeGenerated
}

// persist writes the user turn and then the assistant turn. The assistant
// turn is skipped if the user turn could not be written.
func (p *Pipeline) persist(ctx context.Context, userID, text, reply string) error {
	if err := p.appendTurn(ctx, conversation.Turn{
		UserID: userID,
		Role:   conversation.RoleUser,
		Text:   text,
	}); err != nil {
		return err
	}
	return p.appendTurn(ctx, conversation.Turn{
		UserID: userID,
		Role:   conversation.RoleAssistant,
		Text:   reply,
	})
}

// appendTurn reports store failures, panics included, as a *PersistError.
func (p *Pipeline) appendTurn(ctx context.Context, turn conversation.Turn) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PersistError{Role: turn.Role, Err: fmt.Errorf("store panic: %v", r)}
		}
	}()

	if _, err := p.store.Append(ctx, turn); err != nil {
		return &PersistError{Role: turn.Role, Err: err}
	}
	return nil
}

func (p *Pipeline) withCrisisBlock(reply string, signal risk.Signal) string {
	if !signal.IsCrisis || p.crisis == "" {
		return reply
	}
	return reply + "\n\n" + p.crisis
}

func (p *Pipeline) reject(res Result, err error) (Result, error) {
	res.Stage = StageFailed
	res.Outcome = OutcomeRejected
	p.metrics.MessageProcessed(string(OutcomeRejected))
	return res, err
}

// History returns the user's conversation, oldest first.
func (p *Pipeline) History(ctx context.Context, userID string) ([]conversation.HistoryEntry, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrUserRequired
	}

	turns, err := p.store.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	return entries(turns), nil
}

// RecentHistory returns at most n of the user's latest entries, oldest first.
func (p *Pipeline) RecentHistory(ctx context.Context, userID string, n int) ([]conversation.HistoryEntry, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrUserRequired
	}

	var (
		turns []conversation.Turn
		err   error
	)
	if lister, ok := p.store.(chat.RecentLister); ok {
		turns, err = lister.Recent(ctx, userID, n)
	} else {
		turns, err = p.store.ListByUser(ctx, userID)
		if err == nil && n >= 0 && len(turns) > n {
			turns = turns[len(turns)-n:]
		}
	}
	if err != nil {
		return nil, fmt.Errorf("load recent history: %w", err)
	}
	return entries(turns), nil
}

// ForgetUser deletes every stored turn of userID.
func (p *Pipeline) ForgetUser(ctx context.Context, userID string) (int, error) {
	if strings.TrimSpace(userID) == "" {
		return 0, ErrUserRequired
	}

	eraser, ok := p.store.(chat.Eraser)
	if !ok {
		return 0, ErrUnsupported
	}
	n, err := eraser.DeleteByUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("delete history: %w", err)
	}
	p.logger.Info().Str("user_id", userID).Int("turns", n).Msg("conversation history deleted")
	return n, nil
}

// Backend exposes the generation backend for health reporting.
func (p *Pipeline) Backend() ai.Backend { return p.backend }

func entries(turns []conversation.Turn) []conversation.HistoryEntry {
	out := make([]conversation.HistoryEntry, 0, len(turns))
	for _, turn := range turns {
		out = append(out, turn.Entry())
	}
	return out
}
