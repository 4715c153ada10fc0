package ai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"sync"
)

// LlamaCppEngine runs GGUF models through the llama.cpp command line tool.
type LlamaCppEngine struct {
	Binary    string
	ExtraArgs []string
}

// Load resolves the binary and opens the model file. The file stays open
// until the returned model is closed so it cannot be swapped underneath us.
func (e LlamaCppEngine) Load(path string) (Model, error) {
	binary := e.Binary
	if binary == "" {
		binary = "llama-cli"
	}
	resolved, err := exec.LookPath(binary)
	if err != nil {
		return nil, fmt.Errorf("llama.cpp binary %q: %w", binary, err)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open model: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat model: %w", err)
	}
	if info.IsDir() {
		f.Close()
		return nil, fmt.Errorf("model path %s is a directory", path)
	}

	return &llamaCppModel{
		binary: resolved,
		path:   path,
		file:   f,
		extra:  append([]string(nil), e.ExtraArgs...),
	}, nil
}

type llamaCppModel struct {
	binary string
	path   string
	extra  []string

	mu   sync.Mutex
	file *os.File
}

func (m *llamaCppModel) Predict(ctx context.Context, prompt string, opts PredictOptions) (string, error) {
	m.mu.Lock()
	closed := m.file == nil
	m.mu.Unlock()
	if closed {
		return "", ErrModelClosed
	}

	args := []string{
		"-m", m.path,
		"-p", prompt,
		"-n", strconv.Itoa(opts.MaxTokens),
		"--temp", strconv.FormatFloat(opts.Temperature, 'f', -1, 64),
		"--top-k", strconv.Itoa(opts.TopK),
		"--top-p", strconv.FormatFloat(opts.TopP, 'f', -1, 64),
		"--no-display-prompt",
		// Chat-template models otherwise drop into interactive mode and never exit.
		"-no-cnv",
	}
	args = append(args, m.extra...)

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, m.binary, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", fmt.Errorf("llama.cpp exited: %w: %s", err, truncate(stderr.String(), maxErrorBody))
	}
	return stdout.String(), nil
}

func (m *llamaCppModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.file == nil {
		return errors.New("model already closed")
	}
	err := m.file.Close()
	m.file = nil
	return err
}
