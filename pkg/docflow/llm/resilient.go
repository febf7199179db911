package llm

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	dferrors "github.com/randalmurphal/docflow/pkg/docflow/errors"
	"github.com/randalmurphal/docflow/pkg/docflow/observability"
)

// Resilient wraps a Client with rate limiting and retry. Every attempt gets
// its own timeout; a timed-out attempt is transient and consumes one retry.
type Resilient struct {
	client  Client
	retry   dferrors.RetryConfig
	limiter *rate.Limiter
	logger  *slog.Logger
	metrics observability.MetricsRecorder
}

// ResilientOption configures a Resilient client.
type ResilientOption func(*Resilient)

// WithRetry sets the retry policy. Defaults to errors.DefaultRetry.
func WithRetry(cfg dferrors.RetryConfig) ResilientOption {
	return func(r *Resilient) {
		r.retry = cfg
	}
}

// WithRequestsPerMinute limits outgoing requests. Zero disables limiting.
func WithRequestsPerMinute(rpm int) ResilientOption {
	return func(r *Resilient) {
		if rpm <= 0 {
			r.limiter = nil
			return
		}
		r.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), 1)
	}
}

// WithLimiter sets a shared limiter.
func WithLimiter(l *rate.Limiter) ResilientOption {
	return func(r *Resilient) {
		r.limiter = l
	}
}

// WithLogger sets the logger for attempt failures.
func WithLogger(logger *slog.Logger) ResilientOption {
	return func(r *Resilient) {
		r.logger = logger
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m observability.MetricsRecorder) ResilientOption {
	return func(r *Resilient) {
		r.metrics = m
	}
}

// NewResilient wraps client.
func NewResilient(client Client, opts ...ResilientOption) *Resilient {
	r := &Resilient{
		client:  client,
		retry:   dferrors.DefaultRetry,
		logger:  slog.Default(),
		metrics: observability.NoopMetrics{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// CallOptions carries per-call context for logging, metrics and the trace.
type CallOptions struct {
	// Stage labels logs and metrics.
	Stage string
	// OnAttemptFailed is called once per failed attempt, including the last.
	OnAttemptFailed func(attempt int, err error)
}

// Complete implements Client with retry.
func (r *Resilient) Complete(ctx context.Context, req Request) (*Response, error) {
	return r.Call(ctx, req, CallOptions{})
}

// Call completes req with retry.
func (r *Resilient) Call(ctx context.Context, req Request, opts CallOptions) (*Response, error) {
	return call(ctx, r, req, opts, func(resp *Response) (*Response, error) {
		return resp, nil
	})
}

// Validator is implemented by decoded LLM outputs that can check themselves.
// A validation failure is retried like a parse failure.
type Validator interface {
	Validate() error
}

// CompleteJSON completes req and decodes the JSON object in the response
// into T. Decoding happens inside the retry loop, so a malformed response is
// retried; if the final attempt is still malformed the error is a FatalError.
func CompleteJSON[T any](ctx context.Context, r *Resilient, req Request, opts CallOptions) (T, error) {
	return call(ctx, r, req, opts, func(resp *Response) (T, error) {
		return DecodeJSON[T](resp.Content)
	})
}

func call[T any](ctx context.Context, r *Resilient, req Request, opts CallOptions, parse func(*Response) (T, error)) (T, error) {
	cfg := r.retry
	cfg.RetryableFunc = IsTransient
	cfg.OnAttemptFailed = func(attempt int, err error) {
		r.metrics.RecordLLMAttempt(ctx, opts.Stage, attempt, err)
		observability.LogLLMRetry(r.logger, opts.Stage, attempt, err)
		if opts.OnAttemptFailed != nil {
			opts.OnAttemptFailed(attempt, err)
		}
	}

	res := dferrors.Do(ctx, cfg, func(ctx context.Context) (T, error) {
		var zero T
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return zero, err
			}
		}
		resp, err := r.client.Complete(ctx, req)
		if err != nil {
			return zero, Classify(err)
		}
		return parse(resp)
	})

	if res.Err == nil {
		r.metrics.RecordLLMAttempt(ctx, opts.Stage, res.Attempts, nil)
		return res.Value, nil
	}
	var zero T
	return zero, finalError(res.Err, res.Attempts)
}

// finalError strips the retry wrapper and reports the outcome as a
// TransientError (retries exhausted) or FatalError. Cancellation of the
// caller's context passes through.
func finalError(err error, attempts int) error {
	var cat *dferrors.CategorizedError
	if errors.As(err, &cat) && cat.Err != nil {
		err = cat.Err
	}

	if errors.Is(err, context.Canceled) {
		return err
	}

	var transient *TransientError
	if errors.As(err, &transient) {
		out := *transient
		out.Attempts = attempts
		return &out
	}
	var fatal *FatalError
	if errors.As(err, &fatal) {
		out := *fatal
		out.Attempts = attempts
		return &out
	}

	var jsonErr *dferrors.OutputError
	var valErr *dferrors.ValidationError
	if errors.As(err, &jsonErr) || errors.As(err, &valErr) {
		return &FatalError{Attempts: attempts, Err: err}
	}

	if IsTransient(err) {
		return &TransientError{Attempts: attempts, Err: err}
	}
	return &FatalError{Attempts: attempts, Err: err}
}
