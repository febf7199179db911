package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dferrors "github.com/randalmurphal/docflow/pkg/docflow/errors"
)

func fastRetry(attempts int) dferrors.RetryConfig {
	return dferrors.RetryConfig{
		MaxAttempts:    attempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     4 * time.Millisecond,
		BackoffFactor:  2,
	}
}

type goal struct {
	Goal string `json:"goal"`
}

func (g *goal) Validate() error {
	if g.Goal == "" {
		return &dferrors.ValidationError{Field: "goal", Message: "empty"}
	}
	return nil
}

func TestResilient_SucceedsAfterTransient(t *testing.T) {
	mock := NewMockClient(
		MockResponse{Err: &TransientError{StatusCode: 503, Err: errors.New("overloaded")}},
		MockResponse{Content: "ok"},
	)
	var failures []int
	r := NewResilient(mock, WithRetry(fastRetry(3)))

	resp, err := r.Call(context.Background(), Request{Prompt: "hi"}, CallOptions{
		Stage:           "analyze",
		OnAttemptFailed: func(attempt int, _ error) { failures = append(failures, attempt) },
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, []int{1}, failures)
	assert.Equal(t, 2, mock.CallCount())
}

func TestResilient_ExhaustsTransient(t *testing.T) {
	mock := NewMockClient(
		MockResponse{Err: &TransientError{StatusCode: 429, Err: errors.New("slow down")}},
		MockResponse{Err: &TransientError{StatusCode: 429, Err: errors.New("slow down")}},
		MockResponse{Err: &TransientError{StatusCode: 429, Err: errors.New("slow down")}},
	)
	failures := 0
	r := NewResilient(mock, WithRetry(fastRetry(3)))

	_, err := r.Call(context.Background(), Request{}, CallOptions{
		OnAttemptFailed: func(int, error) { failures++ },
	})

	var transient *TransientError
	require.ErrorAs(t, err, &transient)
	assert.Equal(t, 3, transient.Attempts)
	assert.Equal(t, 429, transient.StatusCode)
	assert.Equal(t, 3, failures)
	assert.Equal(t, 3, mock.CallCount())
}

func TestResilient_FatalStopsImmediately(t *testing.T) {
	mock := NewMockClient(
		MockResponse{Err: &FatalError{StatusCode: 400, Err: errors.New("bad request")}},
		MockResponse{Content: "never"},
	)
	r := NewResilient(mock, WithRetry(fastRetry(3)))

	_, err := r.Complete(context.Background(), Request{})

	var fatal *FatalError
	require.ErrorAs(t, err, &fatal)
	assert.Equal(t, 1, fatal.Attempts)
	assert.Equal(t, 1, mock.CallCount())
}

func TestResilient_UnclassifiedErrorsAreClassified(t *testing.T) {
	mock := NewMockClient(
		MockResponse{Err: &dferrors.StatusError{Status: 502, Detail: "gateway"}},
		MockResponse{Err: &dferrors.StatusError{Status: 401, Detail: "no key"}},
	)
	r := NewResilient(mock, WithRetry(fastRetry(3)))

	_, err := r.Complete(context.Background(), Request{})

	var fatal *FatalError
	require.ErrorAs(t, err, &fatal)
	assert.Equal(t, 401, fatal.StatusCode)
	assert.Equal(t, 2, mock.CallCount())
}

func TestResilient_AttemptTimeoutIsTransient(t *testing.T) {
	mock := NewMockClient(
		MockResponse{Delay: time.Second},
		MockResponse{Content: "fast"},
	)
	cfg := fastRetry(2)
	cfg.AttemptTimeout = 20 * time.Millisecond
	r := NewResilient(mock, WithRetry(cfg))

	resp, err := r.Complete(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, "fast", resp.Content)
}

func TestResilient_CancelledContext(t *testing.T) {
	mock := NewMockClient(MockResponse{Content: "x"})
	r := NewResilient(mock, WithRetry(fastRetry(3)))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Complete(ctx, Request{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, mock.CallCount())
}

func TestCompleteJSON_RetriesMalformedThenSucceeds(t *testing.T) {
	mock := NewMockClient(
		MockResponse{Content: "I think the goal is unclear"},
		MockResponse{Content: "```json\n{\"goal\": \"track term drift\"}\n```"},
	)
	r := NewResilient(mock, WithRetry(fastRetry(3)))

	got, err := CompleteJSON[goal](context.Background(), r, Request{}, CallOptions{})
	require.NoError(t, err)
	assert.Equal(t, "track term drift", got.Goal)
}

func TestCompleteJSON_MalformedOnFinalAttemptIsFatal(t *testing.T) {
	mock := NewMockClient(
		MockResponse{Content: "nope"},
		MockResponse{Content: "{broken"},
		MockResponse{Content: `{"goal": ""}`},
	)
	failures := 0
	r := NewResilient(mock, WithRetry(fastRetry(3)))

	_, err := CompleteJSON[goal](context.Background(), r, Request{}, CallOptions{
		OnAttemptFailed: func(int, error) { failures++ },
	})

	var fatal *FatalError
	require.ErrorAs(t, err, &fatal)
	assert.Equal(t, 3, fatal.Attempts)
	assert.Equal(t, 3, failures)
	var valErr *dferrors.ValidationError
	assert.ErrorAs(t, err, &valErr)
}

func TestRateLimit(t *testing.T) {
	mock := NewMockClient(MockResponse{Content: "a"}, MockResponse{Content: "b"})
	// 600 rpm: one token per 100ms, burst 1.
	r := NewResilient(mock, WithRetry(fastRetry(1)), WithRequestsPerMinute(600))

	start := time.Now()
	_, err := r.Complete(context.Background(), Request{})
	require.NoError(t, err)
	_, err = r.Complete(context.Background(), Request{})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
		ok   bool
	}{
		{"plain object", `{"a":1}`, `{"a":1}`, true},
		{"fenced", "```json\n{\"a\":1}\n```", `{"a":1}`, true},
		{"prose around", "Here you go: {\"a\": {\"b\": 2}} hope that helps", `{"a": {"b": 2}}`, true},
		{"array", "[1, 2]", "[1, 2]", true},
		{"none", "no json here", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractJSON(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClassify(t *testing.T) {
	var transient *TransientError
	var fatal *FatalError

	assert.ErrorAs(t, Classify(&dferrors.StatusError{Status: 429}), &transient)
	assert.ErrorAs(t, Classify(&dferrors.StatusError{Status: 500}), &transient)
	assert.ErrorAs(t, Classify(&dferrors.TimeoutError{Op: "x", After: time.Second}), &transient)
	assert.ErrorAs(t, Classify(&dferrors.StatusError{Status: 403}), &fatal)
	assert.ErrorAs(t, Classify(errors.New("mystery")), &fatal)
	assert.ErrorIs(t, Classify(context.Canceled), context.Canceled)
	assert.Nil(t, Classify(nil))

	assert.True(t, IsTransient(&dferrors.OutputError{Reason: "x"}))
	assert.False(t, IsTransient(&FatalError{Err: errors.New("x")}))
}

func TestMockClient_Handler(t *testing.T) {
	m := NewMockHandler(func(_ context.Context, req Request) (*Response, error) {
		return &Response{Content: strings.ToUpper(req.Prompt)}, nil
	})
	resp, err := m.Complete(context.Background(), Request{Prompt: "abc"})
	require.NoError(t, err)
	assert.Equal(t, "ABC", resp.Content)
	assert.Equal(t, "abc", m.Calls()[0].Prompt)
}

func TestMockClient_Exhausted(t *testing.T) {
	_, err := NewMockClient().Complete(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrMockExhausted)
}

func anthropicServer(t *testing.T, status int, body string, hits *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		_, _ = io.ReadAll(r.Body)
		assert.True(t, strings.HasSuffix(r.URL.Path, "/v1/messages"), r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestAnthropicClient_Complete(t *testing.T) {
	var hits int32
	body := `{"id":"msg_1","type":"message","role":"assistant","model":"claude-test",
		"content":[{"type":"text","text":"{\"goal\":"},{"type":"text","text":"\"x\"}"}],
		"stop_reason":"end_turn","stop_sequence":null,
		"usage":{"input_tokens":12,"output_tokens":7}}`
	srv := anthropicServer(t, http.StatusOK, body, &hits)

	c := NewAnthropicClient("test-key", []AnthropicOption{WithModel("claude-test")}, option.WithBaseURL(srv.URL))
	resp, err := c.Complete(context.Background(), Request{System: "sys", Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, `{"goal":"x"}`, resp.Content)
	assert.Equal(t, int64(12), resp.Usage.InputTokens)
	assert.Equal(t, "claude-test", resp.Model)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestAnthropicClient_ClassifiesStatus(t *testing.T) {
	tests := []struct {
		status    int
		transient bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusInternalServerError, true},
		{529, true},
		{http.StatusBadRequest, false},
		{http.StatusUnauthorized, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			var hits int32
			srv := anthropicServer(t, tt.status, `{"type":"error","error":{"type":"api_error","message":"boom"}}`, &hits)
			c := NewAnthropicClient("k", nil, option.WithBaseURL(srv.URL))

			_, err := c.Complete(context.Background(), Request{Prompt: "hi"})
			require.Error(t, err)
			assert.Equal(t, tt.transient, IsTransient(err))
			assert.Equal(t, int32(1), atomic.LoadInt32(&hits), "sdk retries must be disabled")

			var statusErr *dferrors.StatusError
			require.ErrorAs(t, err, &statusErr)
			assert.Equal(t, tt.status, statusErr.Status)
		})
	}
}
