package builtin

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"codecoder/internal/logging"
	"codecoder/internal/permission"
	"codecoder/internal/tools"
)

const (
	fetchCacheTTL     = 15 * time.Minute
	fetchCacheEntries = 256
	fetchMaxBytes     = 15_000
)

type webFetchTool struct {
	client *http.Client
	cache  *expirable.LRU[string, string]
	logger logging.Logger
}

func NewWebFetch(cfg Config, logger logging.Logger) tools.Executor {
	return &webFetchTool{
		client: cfg.httpClient(),
		cache:  expirable.NewLRU[string, string](fetchCacheEntries, nil, fetchCacheTTL),
		logger: logger,
	}
}

func (t *webFetchTool) Definition() tools.Definition {
	return tools.Definition{
		Name:        "webfetch",
		Description: "Fetch a URL and return its readable text content. Responses are cached for 15 minutes.",
		Kind:        permission.KindWebfetch,
		ScopeArg:    "url",
		Timeout:     45 * time.Second,
		Schema: tools.ObjectSchema(map[string]tools.Property{
			"url": {Type: "string", Description: "The URL to fetch"},
		}, "url"),
	}
}

func (t *webFetchTool) Execute(ctx context.Context, call tools.Call) (*tools.Result, error) {
	rawURL := call.StringArg("url")
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return tools.Failf(call, "invalid url: %s", rawURL), nil
	}
	if parsed.Scheme == "http" {
		parsed.Scheme = "https"
		rawURL = parsed.String()
	}
	if parsed.Scheme != "https" {
		return tools.Failf(call, "unsupported scheme: %s", parsed.Scheme), nil
	}

	if cached, ok := t.cache.Get(rawURL); ok {
		result := tools.Ok(call, cached)
		result.Metadata = map[string]any{"cached": true, "url": rawURL}
		return result, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return tools.Fail(call, err), nil
	}
	req.Header.Set("User-Agent", "codecoder/1.0 (content fetcher)")

	resp, err := t.client.Do(req)
	if err != nil {
		return tools.Fail(call, err), nil
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return tools.Failf(call, "HTTP %d fetching %s", resp.StatusCode, rawURL), nil
	}

	// A redirect that changed hosts is surfaced instead of followed
	// silently; the model decides whether to fetch the new host.
	finalURL := resp.Request.URL
	if finalURL.Host != parsed.Host {
		return tools.Ok(call, fmt.Sprintf(
			"URL redirected to a different host:\noriginal: %s\nredirect: %s\nFetch the redirect target explicitly if intended.",
			rawURL, finalURL.String())), nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return tools.Fail(call, err), nil
	}

	text, err := extractReadableText(string(body))
	if err != nil {
		return tools.Fail(call, fmt.Errorf("parse HTML: %w", err)), nil
	}
	t.cache.Add(rawURL, text)
	t.logger.Debug("fetched %s (%d bytes extracted)", rawURL, len(text))

	result := tools.Ok(call, text)
	result.Metadata = map[string]any{"cached": false, "url": finalURL.String()}
	return result, nil
}

// extractReadableText strips boilerplate and renders headings, paragraphs
// and lists as markdown-ish plain text.
func extractReadableText(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", err
	}
	doc.Find("script, style, nav, footer, header, aside, iframe, noscript").Remove()

	var b strings.Builder
	if title := strings.TrimSpace(doc.Find("title").Text()); title != "" {
		b.WriteString("# " + title + "\n\n")
	}
	doc.Find("h1, h2, h3, h4, h5, h6").Each(func(_ int, s *goquery.Selection) {
		text := strings.TrimSpace(s.Text())
		if text == "" {
			return
		}
		level := int(s.Get(0).Data[1] - '0')
		b.WriteString(strings.Repeat("#", level) + " " + text + "\n\n")
	})
	doc.Find("p, article, section").Each(func(_ int, s *goquery.Selection) {
		if text := strings.TrimSpace(s.Text()); len(text) > 30 {
			b.WriteString(text + "\n\n")
		}
	})
	doc.Find("ul li, ol li").Each(func(_ int, s *goquery.Selection) {
		if text := strings.TrimSpace(s.Text()); text != "" {
			b.WriteString("- " + text + "\n")
		}
	})

	out := b.String()
	if len(out) > fetchMaxBytes {
		out = out[:fetchMaxBytes] + "\n\n[content truncated]"
	}
	if strings.TrimSpace(out) == "" {
		out = "(no readable content extracted)"
	}
	return out, nil
}
