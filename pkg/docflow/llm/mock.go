package llm

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrMockExhausted is returned when a MockClient runs out of scripted
// responses.
var ErrMockExhausted = errors.New("mock llm: no scripted response left")

// MockResponse is one scripted outcome.
type MockResponse struct {
	Content string
	Err     error
	// Delay holds the call open; the call's context can cut it short.
	Delay time.Duration
}

// MockClient is a scripted Client for tests. Responses are returned in order;
// a Handler, when set, takes precedence.
type MockClient struct {
	mu        sync.Mutex
	responses []MockResponse
	calls     []Request

	// Handler computes a response per request. It must be safe for
	// concurrent use.
	Handler func(ctx context.Context, req Request) (*Response, error)
}

var _ Client = (*MockClient)(nil)

// NewMockClient returns a client that replays responses in order.
func NewMockClient(responses ...MockResponse) *MockClient {
	return &MockClient{responses: responses}
}

// NewMockHandler returns a client that delegates to fn.
func NewMockHandler(fn func(ctx context.Context, req Request) (*Response, error)) *MockClient {
	return &MockClient{Handler: fn}
}

// Complete implements Client.
func (m *MockClient) Complete(ctx context.Context, req Request) (*Response, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	handler := m.Handler
	var next MockResponse
	exhausted := false
	if handler == nil {
		if len(m.responses) == 0 {
			exhausted = true
		} else {
			next = m.responses[0]
			m.responses = m.responses[1:]
		}
	}
	m.mu.Unlock()

	if handler != nil {
		return handler(ctx, req)
	}
	if exhausted {
		return nil, &FatalError{Err: ErrMockExhausted}
	}

	if next.Delay > 0 {
		timer := time.NewTimer(next.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	if next.Err != nil {
		return nil, next.Err
	}
	return &Response{Content: next.Content, Model: "mock"}, nil
}

// Calls returns a copy of every request received.
func (m *MockClient) Calls() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns the number of requests received.
func (m *MockClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}
