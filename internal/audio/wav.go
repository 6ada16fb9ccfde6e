package audio

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// EncodeWAV renders float32 samples as a 16-bit mono WAV file in memory.
// Request/response transcription backends expect a self-describing container
// rather than raw PCM.
func EncodeWAV(samples []float32, sampleRate int) ([]byte, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", sampleRate)
	}

	buf := &writerSeeker{}
	enc := wav.NewEncoder(buf, sampleRate, 16, 1, 1)

	intBuf := &goaudio.IntBuffer{
		Format: &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:   make([]int, len(samples)),
	}
	for i, sample := range samples {
		v := sample * 32767.0
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		intBuf.Data[i] = int(int16(v))
	}

	if err := enc.Write(intBuf); err != nil {
		return nil, fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("close wav encoder: %w", err)
	}

	return buf.buf.Bytes(), nil
}

// Archiver writes completed session audio to disk as WAV files so a session
// can be replayed against a different recognizer when results look wrong.
// A nil Archiver is valid and does nothing.
type Archiver struct {
	dir string
}

// NewArchiver creates an archiver rooted at dir, creating it if needed.
// An empty dir disables archiving and returns nil.
func NewArchiver(dir string) (*Archiver, error) {
	if dir == "" {
		return nil, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}
	return &Archiver{dir: dir}, nil
}

// Save writes one session's samples under a session-scoped file name and
// returns the path written
func (a *Archiver) Save(sessionID string, samples []float32, sampleRate int) (string, error) {
	if a == nil {
		return "", nil
	}

	data, err := EncodeWAV(samples, sampleRate)
	if err != nil {
		return "", err
	}

	name := fmt.Sprintf("%s_%s.wav", time.Now().UTC().Format("20060102T150405Z"), sessionID)
	path := filepath.Join(a.dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write archive file: %w", err)
	}

	return path, nil
}

// writerSeeker adapts a bytes.Buffer to io.WriteSeeker for the wav encoder,
// which seeks back to patch the RIFF header sizes on Close
type writerSeeker struct {
	buf bytes.Buffer
	pos int
}

func (ws *writerSeeker) Write(p []byte) (int, error) {
	// Grow with zero padding if a seek moved past the end
	if extra := ws.pos - ws.buf.Len(); extra > 0 {
		if _, err := ws.buf.Write(make([]byte, extra)); err != nil {
			return 0, err
		}
	}

	if ws.pos < ws.buf.Len() {
		n := copy(ws.buf.Bytes()[ws.pos:], p)
		ws.pos += n
		if n < len(p) {
			rest, err := ws.buf.Write(p[n:])
			ws.pos += rest
			return n + rest, err
		}
		return n, nil
	}

	n, err := ws.buf.Write(p)
	ws.pos += n
	return n, err
}

func (ws *writerSeeker) Seek(offset int64, whence int) (int64, error) {
	var next int
	switch whence {
	case 0: // io.SeekStart
		next = int(offset)
	case 1: // io.SeekCurrent
		next = ws.pos + int(offset)
	case 2: // io.SeekEnd
		next = ws.buf.Len() + int(offset)
	default:
		return 0, fmt.Errorf("invalid whence %d", whence)
	}
	if next < 0 {
		return 0, fmt.Errorf("negative seek position %d", next)
	}
	ws.pos = next
	return int64(next), nil
}
