// Package anthropic adapts the Anthropic Messages API to the provider
// port. Requests are converted to the SDK's parameter types, SSE events
// are translated into the port's event vocabulary, and API failures are
// classified into transient and permanent errors so the runtime's retry
// loop can act on them.
package anthropic

import (
	"context"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"codecoder/internal/logging"
	"codecoder/internal/provider"
)

const defaultMaxTokens = 8192

// Options configures the adapter.
type Options struct {
	APIKey  string
	BaseURL string
	Logger  logging.Logger
}

// Client streams completions from the Anthropic Messages API.
type Client struct {
	api    anthropic.Client
	logger logging.Logger
}

// New builds a client. An empty APIKey falls back to the SDK's
// environment lookup (ANTHROPIC_API_KEY).
func New(opts Options) *Client {
	var reqOpts []option.RequestOption
	if opts.APIKey != "" {
		reqOpts = append(reqOpts, option.WithAPIKey(opts.APIKey))
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	return &Client{
		api:    anthropic.NewClient(reqOpts...),
		logger: logging.OrNop(opts.Logger),
	}
}

// Stream opens one streaming completion. Open failures surface through
// the returned stream's Err, matching the SDK's SSE decoder behavior.
func (c *Client) Stream(ctx context.Context, req provider.Request) (provider.Stream, error) {
	params := buildParams(req)
	c.logger.Debug("anthropic request: model=%s messages=%d tools=%d",
		req.Model, len(params.Messages), len(params.Tools))
	sse := c.api.Messages.NewStreaming(ctx, params)
	return newStream(sse), nil
}

func buildParams(req provider.Request) anthropic.MessageNewParams {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(maxTokens),
		Messages:  convertMessages(req.Messages),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if len(req.Tools) > 0 {
		params.Tools = convertTools(req.Tools)
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}
	if req.TopP != nil {
		params.TopP = anthropic.Float(*req.TopP)
	}
	return params
}
