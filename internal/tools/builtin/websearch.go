package builtin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"codecoder/internal/logging"
	"codecoder/internal/permission"
	"codecoder/internal/tools"
)

const searchEndpoint = "https://api.tavily.com/search"

type webSearchTool struct {
	client   *http.Client
	apiKey   string
	endpoint string
	logger   logging.Logger
}

func NewWebSearch(cfg Config, logger logging.Logger) tools.Executor {
	return &webSearchTool{
		client:   cfg.httpClient(),
		apiKey:   cfg.SearchAPIKey,
		endpoint: searchEndpoint,
		logger:   logger,
	}
}

func (t *webSearchTool) Definition() tools.Definition {
	return tools.Definition{
		Name:        "websearch",
		Description: "Search the web and return ranked results with snippets.",
		Kind:        permission.KindWebsearch,
		Timeout:     30 * time.Second,
		Schema: tools.ObjectSchema(map[string]tools.Property{
			"query":       {Type: "string", Description: "Search query"},
			"max_results": {Type: "integer", Description: "Number of results", Default: float64(5)},
		}, "query"),
	}
}

func (t *webSearchTool) Execute(ctx context.Context, call tools.Call) (*tools.Result, error) {
	if t.apiKey == "" {
		return tools.Failf(call, "web search is not configured: set search_api_key in codecoder.json or CODECODER_SEARCH_API_KEY"), nil
	}
	query := call.StringArg("query")
	maxResults := call.IntArg("max_results")
	if maxResults <= 0 || maxResults > 10 {
		maxResults = 5
	}

	payload, err := json.Marshal(map[string]any{
		"api_key":        t.apiKey,
		"query":          query,
		"max_results":    maxResults,
		"include_answer": true,
	})
	if err != nil {
		return tools.Fail(call, err), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(payload))
	if err != nil {
		return tools.Fail(call, err), nil
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return tools.Fail(call, err), nil
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return tools.Fail(call, err), nil
	}
	if resp.StatusCode != http.StatusOK {
		return tools.Failf(call, "search API returned HTTP %d", resp.StatusCode), nil
	}

	var parsed struct {
		Query   string `json:"query"`
		Answer  string `json:"answer"`
		Results []struct {
			Title   string  `json:"title"`
			URL     string  `json:"url"`
			Content string  `json:"content"`
			Score   float64 `json:"score"`
		} `json:"results"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return tools.Fail(call, fmt.Errorf("decode search response: %w", err)), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Search: %s\n\n", query)
	if parsed.Answer != "" {
		fmt.Fprintf(&b, "Summary: %s\n\n", parsed.Answer)
	}
	for i, r := range parsed.Results {
		fmt.Fprintf(&b, "%d. %s\n   %s\n   %s\n\n", i+1, r.Title, r.URL, strings.TrimSpace(r.Content))
	}
	if len(parsed.Results) == 0 {
		b.WriteString("No results.\n")
	}
	t.logger.Debug("websearch %q returned %d results", query, len(parsed.Results))
	return tools.Ok(call, b.String()), nil
}
