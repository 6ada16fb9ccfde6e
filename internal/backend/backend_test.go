package backend

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/voxinput/dictation-engine/internal/config"
)

func TestNew_SelectsBackend(t *testing.T) {
	cfg := &config.Config{Backend: "mock"}

	tr, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, ok := tr.(*MockTranscriber); !ok {
		t.Errorf("Expected *MockTranscriber, got %T", tr)
	}
}

func TestNew_UnknownBackend(t *testing.T) {
	_, err := New(&config.Config{Backend: "smoke-signals"})
	if err == nil {
		t.Error("Expected error for unknown backend")
	}
}

func TestNewDeepgramTranscriber_RequiresKey(t *testing.T) {
	_, err := NewDeepgramTranscriber(&config.Config{Backend: "deepgram"})
	if err == nil {
		t.Error("Expected error without API key")
	}
}

func TestNewExecTranscriber_EmptyCommand(t *testing.T) {
	_, err := NewExecTranscriber(&config.Config{Backend: "exec", ExecCommand: ""})
	if err == nil {
		t.Error("Expected error for empty exec command")
	}
}

func TestExecTranscriber_RunsCommand(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script fixture requires a unix shell")
	}

	dir := t.TempDir()
	script := filepath.Join(dir, "recognizer.sh")
	body := "#!/bin/sh\necho '{\"text\": \"hello world\", \"confidence\": 0.93}'\n"
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	tr, err := NewExecTranscriber(&config.Config{Backend: "exec", ExecCommand: script})
	if err != nil {
		t.Fatalf("NewExecTranscriber failed: %v", err)
	}

	result, err := tr.Transcribe(context.Background(), make([]float32, 160), 16000)
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}

	if result.Text != "hello world" {
		t.Errorf("Expected text 'hello world', got %q", result.Text)
	}
	if result.Confidence != 0.93 {
		t.Errorf("Expected confidence 0.93, got %f", result.Confidence)
	}
}

func TestMockTranscriber_Script(t *testing.T) {
	mock := NewMockTranscriber()
	mock.Enqueue(
		MockResponse{Result: Result{Text: "first", Confidence: 0.9}},
		MockResponse{Err: errors.New("backend down")},
	)
	mock.SetDefault(MockResponse{Result: Result{Text: "default", Confidence: 0.5}})

	ctx := context.Background()

	result, err := mock.Transcribe(ctx, []float32{1, 2, 3}, 16000)
	if err != nil || result.Text != "first" {
		t.Errorf("Expected scripted result 'first', got %q err=%v", result.Text, err)
	}

	if _, err := mock.Transcribe(ctx, nil, 16000); err == nil {
		t.Error("Expected scripted error on second call")
	}

	result, err = mock.Transcribe(ctx, nil, 16000)
	if err != nil || result.Text != "default" {
		t.Errorf("Expected default result after script, got %q err=%v", result.Text, err)
	}

	if mock.Calls() != 3 {
		t.Errorf("Expected 3 calls, got %d", mock.Calls())
	}

	lengths := mock.SampleLengths()
	if len(lengths) != 3 || lengths[0] != 3 {
		t.Errorf("Expected recorded sample lengths [3 0 0], got %v", lengths)
	}
}

func TestConfidenceFromSegments(t *testing.T) {
	if v := confidenceFromSegments(nil); v != 0 {
		t.Errorf("Expected 0 confidence for no segments, got %f", v)
	}

	// avg_logprob 0 means per-token probability 1; no-speech 0 keeps it
	segments := []whisperSegment{{AvgLogprob: 0, NoSpeechProb: 0}}
	if v := confidenceFromSegments(segments); math.Abs(v-1.0) > 1e-9 {
		t.Errorf("Expected confidence 1.0, got %f", v)
	}

	// Strong no-speech probability discounts the score
	segments = []whisperSegment{{AvgLogprob: 0, NoSpeechProb: 0.9}}
	if v := confidenceFromSegments(segments); math.Abs(v-0.1) > 1e-9 {
		t.Errorf("Expected confidence 0.1, got %f", v)
	}

	// Lower log probabilities lower the score
	segments = []whisperSegment{{AvgLogprob: -1, NoSpeechProb: 0}}
	want := math.Exp(-1)
	if v := confidenceFromSegments(segments); math.Abs(v-want) > 1e-9 {
		t.Errorf("Expected confidence %f, got %f", want, v)
	}
}
