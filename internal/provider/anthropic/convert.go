package anthropic

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"

	errs "codecoder/internal/errors"
	"codecoder/internal/session"
	"codecoder/internal/tools"
)

// convertMessages maps session transcripts onto the wire format. System
// messages are carried in the request's System field, reasoning parts are
// never resent, and messages left with no content are dropped.
func convertMessages(msgs []*session.Message) []anthropic.MessageParam {
	params := make([]anthropic.MessageParam, 0, len(msgs))
	for _, msg := range msgs {
		if msg.Role == session.RoleSystem {
			continue
		}

		blocks := make([]anthropic.ContentBlockParamUnion, 0, len(msg.Parts))
		for _, part := range msg.Parts {
			switch part.Type {
			case session.PartText:
				if part.Text != "" {
					blocks = append(blocks, anthropic.NewTextBlock(part.Text))
				}
			case session.PartToolCall:
				blocks = append(blocks, anthropic.NewToolUseBlock(part.CallID, toolInput(part.Input), part.Tool))
			case session.PartToolResult:
				content := part.Output
				if content == "" {
					content = "(no output)"
				}
				blocks = append(blocks, anthropic.NewToolResultBlock(part.CallID, content, part.IsError))
			}
		}
		if len(blocks) == 0 {
			continue
		}

		params = append(params, anthropic.MessageParam{
			Role:    anthropic.MessageParamRole(msg.Role),
			Content: blocks,
		})
	}
	return params
}

// toolInput decodes stored call arguments. The API requires an object,
// never null.
func toolInput(raw json.RawMessage) any {
	var input any
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &input)
	}
	if input == nil {
		input = map[string]any{}
	}
	return input
}

func convertTools(defs []tools.Definition) []anthropic.ToolUnionParam {
	params := make([]anthropic.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		inputSchema := anthropic.ToolInputSchemaParam{
			Type:       "object",
			Properties: schemaProperties(def.Schema),
		}
		if len(def.Schema.Required) > 0 {
			inputSchema.Required = def.Schema.Required
		}

		toolParam := anthropic.ToolParam{
			Name:        def.Name,
			Description: anthropic.String(def.Description),
			InputSchema: inputSchema,
		}
		params = append(params, anthropic.ToolUnionParam{OfTool: &toolParam})
	}
	return params
}

func schemaProperties(schema tools.Schema) map[string]any {
	props := make(map[string]any, len(schema.Properties))
	for name, prop := range schema.Properties {
		props[name] = propertyMap(prop)
	}
	return props
}

func propertyMap(prop tools.Property) map[string]any {
	m := map[string]any{"type": prop.Type}
	if prop.Description != "" {
		m["description"] = prop.Description
	}
	if len(prop.Enum) > 0 {
		m["enum"] = prop.Enum
	}
	if prop.Default != nil {
		m["default"] = prop.Default
	}
	if prop.Items != nil {
		m["items"] = propertyMap(*prop.Items)
	}
	return m
}

// classifyError maps SDK failures onto the retry taxonomy: 429, 408, 504
// and 5xx become transient (with any server-supplied Retry-After), other
// API statuses become permanent. Non-API errors pass through untouched so
// the generic network classification applies.
func classifyError(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *anthropic.Error
	if !errors.As(err, &apiErr) {
		if strings.Contains(strings.ToLower(err.Error()), "overloaded") {
			return &errs.TransientError{
				Err:     err,
				Message: "Provider is overloaded. Retrying with exponential backoff.",
			}
		}
		return err
	}

	status := apiErr.StatusCode
	if status == http.StatusTooManyRequests ||
		status == http.StatusRequestTimeout ||
		status == http.StatusGatewayTimeout ||
		status >= 500 {
		return &errs.TransientError{
			Err:        err,
			StatusCode: status,
			RetryAfter: retryAfterSeconds(apiErr),
			Message:    fmt.Sprintf("Provider returned %d %s.", status, http.StatusText(status)),
		}
	}
	return &errs.PermanentError{
		Err:        err,
		StatusCode: status,
		Message:    fmt.Sprintf("Provider rejected the request: %d %s.", status, http.StatusText(status)),
	}
}

// retryAfterSeconds reads the Retry-After header, accepting both the
// delta-seconds and HTTP-date forms.
func retryAfterSeconds(apiErr *anthropic.Error) int {
	if apiErr.Response == nil {
		return 0
	}
	value := strings.TrimSpace(apiErr.Response.Header.Get("Retry-After"))
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return seconds
	}
	if at, err := http.ParseTime(value); err == nil {
		if wait := int(time.Until(at).Seconds()); wait > 0 {
			return wait
		}
	}
	return 0
}
