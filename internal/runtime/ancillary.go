package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/kaptinlin/jsonrepair"

	"codecoder/internal/agent"
	errs "codecoder/internal/errors"
	"codecoder/internal/provider"
	"codecoder/internal/session"
)

// ancillaryTimeout bounds background generations (titles, summaries) so
// an unresponsive provider cannot pin a goroutine.
const ancillaryTimeout = 30 * time.Second

const maxTitleRunes = 80

// complete runs one non-streaming generation with the standard provider
// retry schedule.
func (r *Runtime) complete(ctx context.Context, req provider.Request) (*provider.Response, error) {
	if r.provider == nil {
		return nil, ErrModelUnavailable
	}
	resp, err := errs.RetryWithResult(ctx, errs.ProviderRetryConfig(), r.logger, func(ctx context.Context) (*provider.Response, error) {
		stream, err := r.provider.Stream(ctx, req)
		if err != nil {
			return nil, err
		}
		return provider.Collect(stream)
	})
	if err != nil {
		return nil, errs.WithKind(errs.KindProvider, err)
	}
	return resp, nil
}

// generate runs a hidden agent over a single user message and returns
// the trimmed text. Hidden agents get no tools.
func (r *Runtime) generate(ctx context.Context, info *agent.Info, model, input string, maxTokens int) (string, error) {
	resp, err := r.complete(ctx, provider.Request{
		Model:  model,
		System: info.Prompt,
		Messages: []*session.Message{{
			Role:  session.RoleUser,
			Parts: []session.Part{{Type: session.PartText, Text: input}},
		}},
		MaxTokens:   maxTokens,
		Temperature: info.Temperature,
		TopP:        info.TopP,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Text), nil
}

// GenerateTitle asks the hidden title agent to name the session from its
// first exchange and persists the result. The turn loop fires this in
// the background after the first response; it is also callable directly.
func (r *Runtime) GenerateTitle(ctx context.Context, sessionID string) error {
	msgs, err := r.sessions.Messages(ctx, sessionID)
	if err != nil {
		return errs.WithKind(errs.KindStorage, err)
	}
	exchange := firstExchange(msgs)
	if exchange == "" {
		return fmt.Errorf("session %s has no text to title", sessionID)
	}

	info, err := r.agents.Get("title")
	if err != nil {
		return err
	}
	title, err := r.generate(ctx, info, r.cfg.SmallModelFor(info.Model), exchange, 64)
	if err != nil {
		return err
	}
	title = sanitizeTitle(title)
	if title == "" {
		return fmt.Errorf("title generation for session %s came back empty", sessionID)
	}
	if err := r.sessions.SetTitle(ctx, sessionID, title); err != nil {
		return errs.WithKind(errs.KindStorage, err)
	}
	return nil
}

// Summarize generates and persists an on-demand session summary.
func (r *Runtime) Summarize(ctx context.Context, sessionID string) (string, error) {
	msgs, err := r.sessions.Messages(ctx, sessionID)
	if err != nil {
		return "", errs.WithKind(errs.KindStorage, err)
	}
	transcript := renderTranscript(msgs)
	if transcript == "" {
		return "", fmt.Errorf("session %s has nothing to summarize", sessionID)
	}

	info, err := r.agents.Get("summary")
	if err != nil {
		return "", err
	}
	summary, err := r.generate(ctx, info, r.cfg.SmallModelFor(info.Model), transcript, 1_024)
	if err != nil {
		return "", err
	}
	if summary == "" {
		return "", fmt.Errorf("summary generation for session %s came back empty", sessionID)
	}
	if err := r.sessions.SetSummary(ctx, sessionID, summary); err != nil {
		return "", errs.WithKind(errs.KindStorage, err)
	}
	return summary, nil
}

// GeneratedAgent is a model-drafted agent definition. The caller decides
// whether to persist it into config.
type GeneratedAgent struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Prompt      string `json:"prompt"`
}

const agentGenPrompt = `You draft agent definitions for a coding
assistant. Given a description of a task specialty, reply with a single
JSON object and nothing else:

{"name": "...", "description": "...", "prompt": "..."}

name: a short kebab-case identifier (lowercase letters, digits, hyphens).
description: one sentence saying when to use the agent.
prompt: the agent's full system prompt in second person.`

var agentNamePattern = regexp.MustCompile(`^[a-z][a-z0-9-]*$`)

// GenerateAgent drafts a new agent definition from a natural-language
// description. Names that collide with a registered agent are rejected
// with agent.ErrDuplicateAgent.
func (r *Runtime) GenerateAgent(ctx context.Context, description string) (*GeneratedAgent, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return nil, fmt.Errorf("agent description is empty")
	}

	temp := 0.2
	resp, err := r.complete(ctx, provider.Request{
		Model:  r.cfg.ModelFor(""),
		System: agentGenPrompt,
		Messages: []*session.Message{{
			Role:  session.RoleUser,
			Parts: []session.Part{{Type: session.PartText, Text: description}},
		}},
		MaxTokens:   2_048,
		Temperature: &temp,
	})
	if err != nil {
		return nil, err
	}

	gen, err := parseGeneratedAgent(resp.Text)
	if err != nil {
		return nil, err
	}
	if r.agents.Has(gen.Name) {
		return nil, fmt.Errorf("%w: %s", agent.ErrDuplicateAgent, gen.Name)
	}
	return gen, nil
}

func parseGeneratedAgent(raw string) (*GeneratedAgent, error) {
	raw = strings.TrimSpace(raw)
	var gen GeneratedAgent
	if err := json.Unmarshal([]byte(raw), &gen); err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(raw)
		if repairErr != nil {
			return nil, fmt.Errorf("agent generation returned unparseable JSON: %w", err)
		}
		if err := json.Unmarshal([]byte(repaired), &gen); err != nil {
			return nil, fmt.Errorf("agent generation returned unparseable JSON: %w", err)
		}
	}

	gen.Name = normalizeAgentName(gen.Name)
	if !agentNamePattern.MatchString(gen.Name) {
		return nil, fmt.Errorf("agent generation produced invalid name %q", gen.Name)
	}
	gen.Description = strings.TrimSpace(gen.Description)
	gen.Prompt = strings.TrimSpace(gen.Prompt)
	if gen.Prompt == "" {
		return nil, fmt.Errorf("agent generation produced an empty prompt")
	}
	return &gen, nil
}

func normalizeAgentName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.ReplaceAll(name, " ", "-")
	name = strings.ReplaceAll(name, "_", "-")
	return strings.Trim(name, "-")
}

// firstExchange renders the opening user/assistant texts for titling.
func firstExchange(msgs []*session.Message) string {
	var user, assistant string
	for _, msg := range msgs {
		if msg.Mode != session.ModeNormal {
			continue
		}
		text := msg.Text()
		if text == "" {
			continue
		}
		switch {
		case msg.Role == session.RoleUser && user == "":
			user = text
		case msg.Role == session.RoleAssistant && assistant == "":
			assistant = text
		}
		if user != "" && assistant != "" {
			break
		}
	}
	if user == "" {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "User: %s\n", clipText(user, 2000))
	if assistant != "" {
		fmt.Fprintf(&b, "Assistant: %s\n", clipText(assistant, 2000))
	}
	return b.String()
}

// renderTranscript flattens the conversation's text for summarization,
// skipping tool plumbing.
func renderTranscript(msgs []*session.Message) string {
	var b strings.Builder
	for _, msg := range msgs {
		text := msg.Text()
		if text == "" {
			continue
		}
		fmt.Fprintf(&b, "[%s] %s\n", msg.Role, clipText(text, 4000))
	}
	return strings.TrimSpace(b.String())
}

func sanitizeTitle(title string) string {
	title = strings.TrimSpace(title)
	if i := strings.IndexByte(title, '\n'); i >= 0 {
		title = title[:i]
	}
	title = strings.Trim(strings.TrimSpace(title), `"'`)
	runes := []rune(title)
	if len(runes) > maxTitleRunes {
		title = string(runes[:maxTitleRunes])
	}
	return strings.TrimSpace(title)
}
