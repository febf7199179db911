package llm

import (
	"context"
	"errors"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	dferrors "github.com/randalmurphal/docflow/pkg/docflow/errors"
)

// Default model settings for AnthropicClient.
const (
	DefaultModel     = "claude-sonnet-4-5"
	DefaultMaxTokens = 4096
)

// AnthropicClient implements Client over the Anthropic Messages API.
// SDK-level retries are disabled; retrying is Resilient's job.
type AnthropicClient struct {
	client    sdk.Client
	model     string
	maxTokens int
}

// AnthropicOption configures an AnthropicClient.
type AnthropicOption func(*AnthropicClient)

// WithModel sets the default model.
func WithModel(model string) AnthropicOption {
	return func(c *AnthropicClient) {
		if model != "" {
			c.model = model
		}
	}
}

// WithMaxTokens sets the default output budget.
func WithMaxTokens(n int) AnthropicOption {
	return func(c *AnthropicClient) {
		if n > 0 {
			c.maxTokens = n
		}
	}
}

// NewAnthropicClient creates a client authenticated with apiKey.
// Extra request options (base URL, HTTP client) are passed to the SDK.
func NewAnthropicClient(apiKey string, opts []AnthropicOption, reqOpts ...option.RequestOption) *AnthropicClient {
	base := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	c := &AnthropicClient{
		client:    sdk.NewClient(append(base, reqOpts...)...),
		model:     DefaultModel,
		maxTokens: DefaultMaxTokens,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Complete implements Client.
func (c *AnthropicClient) Complete(ctx context.Context, req Request) (*Response, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(model),
		MaxTokens: int64(maxTokens),
		Messages:  []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock(req.Prompt))},
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature != nil {
		params.Temperature = sdk.Float(*req.Temperature)
	}

	start := time.Now()
	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, classifySDKError(err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return &Response{
		Content:    text.String(),
		Model:      string(msg.Model),
		StopReason: string(msg.StopReason),
		Usage: TokenUsage{
			InputTokens:  msg.Usage.InputTokens,
			OutputTokens: msg.Usage.OutputTokens,
		},
		Duration: time.Since(start),
	}, nil
}

// classifySDKError maps SDK errors onto TransientError / FatalError by HTTP
// status. Transport failures without a status are transient; cancellation
// passes through.
func classifySDKError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}

	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		statusErr := &dferrors.StatusError{
			Service: "anthropic messages",
			Status:  apiErr.StatusCode,
			Detail:  err.Error(),
		}
		if dferrors.CategorizeStatus(apiErr.StatusCode) == dferrors.CategoryTransient {
			return &TransientError{StatusCode: apiErr.StatusCode, Err: statusErr}
		}
		return &FatalError{StatusCode: apiErr.StatusCode, Err: statusErr}
	}

	// Timeouts, connection resets and EOFs carry no status.
	return &TransientError{Err: err}
}
