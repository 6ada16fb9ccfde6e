package backend

import (
	"context"
	"sync"
)

// MockTranscriber is a scripted Transcriber for tests and dry runs. Results
// are returned in FIFO order; when the script is exhausted the default
// result is returned.
type MockTranscriber struct {
	mu      sync.Mutex
	script  []MockResponse
	def     MockResponse
	calls   int
	samples [][]float32
}

// MockResponse is one scripted recognition outcome
type MockResponse struct {
	Result Result
	Err    error
}

// NewMockTranscriber creates an empty mock returning the zero Result
func NewMockTranscriber() *MockTranscriber {
	return &MockTranscriber{}
}

// Enqueue appends scripted responses
func (m *MockTranscriber) Enqueue(responses ...MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, responses...)
}

// SetDefault sets the response used once the script is exhausted
func (m *MockTranscriber) SetDefault(resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.def = resp
}

// Transcribe pops the next scripted response and records the call
func (m *MockTranscriber) Transcribe(ctx context.Context, samples []float32, sampleRate int) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	copied := make([]float32, len(samples))
	copy(copied, samples)
	m.samples = append(m.samples, copied)

	if len(m.script) > 0 {
		resp := m.script[0]
		m.script = m.script[1:]
		return resp.Result, resp.Err
	}
	return m.def.Result, m.def.Err
}

// Calls returns how many times Transcribe was invoked
func (m *MockTranscriber) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// SampleLengths returns the length of each submitted sample buffer, in call
// order
func (m *MockTranscriber) SampleLengths() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	lengths := make([]int, len(m.samples))
	for i, s := range m.samples {
		lengths[i] = len(s)
	}
	return lengths
}

// Close releases backend resources
func (m *MockTranscriber) Close() error {
	return nil
}
