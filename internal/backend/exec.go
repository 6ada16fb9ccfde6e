package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sync"

	shellwords "github.com/mattn/go-shellwords"

	"github.com/voxinput/dictation-engine/internal/audio"
	"github.com/voxinput/dictation-engine/internal/config"
)

// ExecTranscriber implements Transcriber by shelling out to a local
// recognizer command. The command receives a WAV file path and prints
// {"text": ..., "confidence": ...} on stdout. Useful for whisper.cpp
// wrappers and for keeping recognition fully offline.
type ExecTranscriber struct {
	cmd       []string
	modelPath string
	language  string

	// Local recognizers are typically single-model processes; serialize calls
	mu sync.Mutex
}

type execResult struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// NewExecTranscriber creates a transcriber running the configured command
func NewExecTranscriber(cfg *config.Config) (*ExecTranscriber, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.ExecCommand)
	if err != nil {
		return nil, fmt.Errorf("parse exec command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("exec command is empty")
	}

	return &ExecTranscriber{
		cmd:       args,
		modelPath: cfg.ExecModelPath,
		language:  cfg.ExecLanguage,
	}, nil
}

// Transcribe writes the samples to a temp WAV file and runs the command
func (e *ExecTranscriber) Transcribe(ctx context.Context, samples []float32, sampleRate int) (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	wavData, err := audio.EncodeWAV(samples, sampleRate)
	if err != nil {
		return Result{}, fmt.Errorf("encode audio for exec backend: %w", err)
	}

	file, err := os.CreateTemp("", "dictation_stt_*.wav")
	if err != nil {
		return Result{}, fmt.Errorf("temp file: %w", err)
	}
	defer os.Remove(file.Name())

	if _, err := file.Write(wavData); err != nil {
		file.Close()
		return Result{}, fmt.Errorf("write temp wav: %w", err)
	}
	if err := file.Close(); err != nil {
		return Result{}, fmt.Errorf("close temp wav: %w", err)
	}

	args := append([]string{}, e.cmd[1:]...)
	args = append(args, "--audio", file.Name())
	if e.modelPath != "" {
		args = append(args, "--model", e.modelPath)
	}
	if e.language != "" {
		args = append(args, "--language", e.language)
	}

	command := exec.CommandContext(ctx, e.cmd[0], args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return Result{}, fmt.Errorf("recognizer command failed: %w: %s", err, stderr.String())
	}

	var resp execResult
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return Result{}, fmt.Errorf("decode recognizer response: %w", err)
	}

	return Result{Text: resp.Text, Confidence: resp.Confidence}, nil
}

// Close releases backend resources
func (e *ExecTranscriber) Close() error {
	return nil
}
