package ai

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeModel struct {
	mu      sync.Mutex
	prompts []string
	opts    []PredictOptions
	predict func(ctx context.Context, prompt string) (string, error)

	active    atomic.Int32
	maxActive atomic.Int32
	closes    atomic.Int32
}

func (m *fakeModel) Predict(ctx context.Context, prompt string, opts PredictOptions) (string, error) {
	n := m.active.Add(1)
	defer m.active.Add(-1)
	for {
		cur := m.maxActive.Load()
		if n <= cur || m.maxActive.CompareAndSwap(cur, n) {
			break
		}
	}

	m.mu.Lock()
	m.prompts = append(m.prompts, prompt)
	m.opts = append(m.opts, opts)
	m.mu.Unlock()

	if m.predict != nil {
		return m.predict(ctx, prompt)
	}
	return "generated", nil
}

func (m *fakeModel) Close() error {
	m.closes.Add(1)
	return nil
}

type fakeEngine struct {
	model *fakeModel
	err   error
	path  string
}

func (e *fakeEngine) Load(path string) (Model, error) {
	e.path = path
	if e.err != nil {
		return nil, e.err
	}
	return e.model, nil
}

func newTestLocal(t *testing.T, model *fakeModel, timeout time.Duration) *LocalBackend {
	t.Helper()
	b, err := NewLocalBackend(&fakeEngine{model: model}, LocalConfig{ModelPath: "/models/test.gguf", Timeout: timeout}, zerolog.Nop())
	require.NoError(t, err)
	return b
}

func TestNewLocalBackendLoadsModel(t *testing.T) {
	engine := &fakeEngine{model: &fakeModel{}}
	b, err := NewLocalBackend(engine, LocalConfig{ModelPath: "/models/test.gguf"}, zerolog.Nop())

	require.NoError(t, err)
	assert.Equal(t, "/models/test.gguf", engine.path)
	assert.Equal(t, "local", b.Name())
	assert.True(t, b.IsAvailable(context.Background()))
}

func TestNewLocalBackendErrors(t *testing.T) {
	_, err := NewLocalBackend(&fakeEngine{}, LocalConfig{}, zerolog.Nop())
	assert.Error(t, err)

	_, err = NewLocalBackend(&fakeEngine{err: errors.New("bad file")}, LocalConfig{ModelPath: "x.gguf"}, zerolog.Nop())
	assert.ErrorContains(t, err, "bad file")
}

func TestLocalGenerateFormatsInstruction(t *testing.T) {
	model := &fakeModel{predict: func(context.Context, string) (string, error) {
		return "  I hear you.  ", nil
	}}
	b := newTestLocal(t, model, time.Second)

	text, err := b.Generate(context.Background(), testRequest())

	require.NoError(t, err)
	assert.Equal(t, "I hear you.", text)
	require.Len(t, model.prompts, 1)
	assert.Equal(t, "<s>[INST] be kind\n\nhello [/INST]", model.prompts[0])
	assert.Equal(t, PredictOptions{MaxTokens: 150, Temperature: 0.7, TopK: 40, TopP: 0.9}, model.opts[0])
}

func TestLocalGenerateFailures(t *testing.T) {
	tests := []struct {
		name    string
		predict func(context.Context, string) (string, error)
		want    Kind
	}{
		{
			name:    "empty output",
			predict: func(context.Context, string) (string, error) { return " \n ", nil },
			want:    KindEmptyResponse,
		},
		{
			name:    "engine error",
			predict: func(context.Context, string) (string, error) { return "", errors.New("bad token") },
			want:    KindUnknown,
		},
		{
			name:    "model closed",
			predict: func(context.Context, string) (string, error) { return "", ErrModelClosed },
			want:    KindUnavailable,
		},
		{
			name:    "panic",
			predict: func(context.Context, string) (string, error) { panic("segfault in engine") },
			want:    KindUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newTestLocal(t, &fakeModel{predict: tt.predict}, time.Second)
			text, err := b.Generate(context.Background(), testRequest())

			assert.Empty(t, text)
			assert.Equal(t, tt.want, KindOf(err))
		})
	}
}

func TestLocalGenerateTimeout(t *testing.T) {
	model := &fakeModel{predict: func(ctx context.Context, _ string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}
	b := newTestLocal(t, model, 30*time.Millisecond)

	_, err := b.Generate(context.Background(), testRequest())

	assert.Equal(t, KindTimeout, KindOf(err))
}

func TestLocalGenerateSerializesCalls(t *testing.T) {
	model := &fakeModel{predict: func(context.Context, string) (string, error) {
		time.Sleep(5 * time.Millisecond)
		return "ok", nil
	}}
	b := newTestLocal(t, model, 5*time.Second)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := b.Generate(context.Background(), testRequest())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), model.maxActive.Load())
	assert.Len(t, model.prompts, 8)
}

func TestLocalGenerateWaitingCallerHonoursDeadline(t *testing.T) {
	release := make(chan struct{})
	model := &fakeModel{predict: func(context.Context, string) (string, error) {
		<-release
		return "ok", nil
	}}
	b := newTestLocal(t, model, 0)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = b.Generate(context.Background(), testRequest())
	}()
	require.Eventually(t, func() bool { return model.active.Load() == 1 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := b.Generate(ctx, testRequest())

	assert.Equal(t, KindTimeout, KindOf(err))
	close(release)
	<-done
}

func TestLocalCloseReleasesOnce(t *testing.T) {
	model := &fakeModel{}
	b := newTestLocal(t, model, time.Second)

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	assert.Equal(t, int32(1), model.closes.Load())
	assert.False(t, b.IsAvailable(context.Background()))

	_, err := b.Generate(context.Background(), testRequest())
	assert.Equal(t, KindUnavailable, KindOf(err))
}

func TestFormatInstruction(t *testing.T) {
	assert.Equal(t, "<s>[INST] sys\n\nuser text [/INST]", FormatInstruction("sys", "user text"))
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not executable on windows")
	}
	path := filepath.Join(t.TempDir(), "fake-llama")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func writeModelFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "model.gguf")
	require.NoError(t, os.WriteFile(path, []byte("GGUF"), 0o644))
	return path
}

func TestLlamaCppEnginePredict(t *testing.T) {
	bin := writeScript(t, `echo "model=$2 reply"`)
	modelPath := writeModelFile(t)

	m, err := LlamaCppEngine{Binary: bin}.Load(modelPath)
	require.NoError(t, err)
	defer m.Close()

	out, err := m.Predict(context.Background(), "<s>[INST] hi [/INST]", PredictOptions{MaxTokens: 10, Temperature: 0.7, TopK: 40, TopP: 0.9})

	require.NoError(t, err)
	assert.Equal(t, "model="+modelPath+" reply\n", out)
}

func TestLlamaCppEngineRunsSingleCompletion(t *testing.T) {
	bin := writeScript(t, `for a in "$@"; do [ "$a" = "-no-cnv" ] && echo "single completion" && exit 0; done; exit 9`)

	m, err := LlamaCppEngine{Binary: bin}.Load(writeModelFile(t))
	require.NoError(t, err)
	defer m.Close()

	out, err := m.Predict(context.Background(), "prompt", PredictOptions{MaxTokens: 10})
	require.NoError(t, err)
	assert.Equal(t, "single completion\n", out)
}

func TestLlamaCppEnginePredictFailure(t *testing.T) {
	bin := writeScript(t, `echo "out of memory" >&2; exit 3`)

	m, err := LlamaCppEngine{Binary: bin}.Load(writeModelFile(t))
	require.NoError(t, err)
	defer m.Close()

	_, err = m.Predict(context.Background(), "prompt", PredictOptions{})
	assert.ErrorContains(t, err, "out of memory")
}

func TestLlamaCppEngineLoadErrors(t *testing.T) {
	bin := writeScript(t, "true")

	_, err := LlamaCppEngine{Binary: filepath.Join(t.TempDir(), "missing")}.Load(writeModelFile(t))
	assert.Error(t, err)

	_, err = LlamaCppEngine{Binary: bin}.Load(filepath.Join(t.TempDir(), "missing.gguf"))
	assert.ErrorContains(t, err, "open model")

	_, err = LlamaCppEngine{Binary: bin}.Load(t.TempDir())
	assert.ErrorContains(t, err, "directory")
}

func TestLlamaCppModelClosed(t *testing.T) {
	m, err := LlamaCppEngine{Binary: writeScript(t, "echo hi")}.Load(writeModelFile(t))
	require.NoError(t, err)

	require.NoError(t, m.Close())
	_, err = m.Predict(context.Background(), "p", PredictOptions{})
	assert.ErrorIs(t, err, ErrModelClosed)
	assert.Error(t, m.Close())
}
