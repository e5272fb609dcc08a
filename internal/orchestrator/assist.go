package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"sitecrew/cli/internal/genclient"
	"sitecrew/cli/internal/retry"
	"sitecrew/cli/internal/streamparse"
)

const maxSuggestions = 3

var suggestionsSchema = genclient.JSONSchema{
	Name: "code_suggestions",
	Schema: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"suggestions": map[string]any{
				"type":        "array",
				"description": "Code completion suggestions.",
				"items":       map[string]any{"type": "string"},
			},
		},
		"required":             []string{"suggestions"},
		"additionalProperties": false,
	},
}

// Enhance rewrites a short idea into a detailed brief. The input comes back
// unchanged when the service fails or answers with nothing.
func (o *Orchestrator) Enhance(ctx context.Context, prompt string) string {
	if strings.TrimSpace(prompt) == "" {
		return prompt
	}
	req := genclient.Request{
		Call:        "enhance",
		System:      enhancerSystem,
		History:     []genclient.Message{genclient.UserText(prompt)},
		Temperature: genclient.Float(0.8),
	}
	resp, err := retry.Do(ctx, o.retry, req.Call, o.settings.Retry.Enhance.Policy(), retry.IsTransient, func(ctx context.Context) (*genclient.Response, error) {
		return o.gen.Complete(ctx, req)
	})
	if err != nil {
		o.logger.Warn("prompt enhancement failed", "err", err)
		return prompt
	}
	if out := strings.TrimSpace(resp.Text); out != "" {
		return out
	}
	return prompt
}

// Suggestions proposes completions for the code before the cursor. Any
// failure yields an empty list.
func (o *Orchestrator) Suggestions(ctx context.Context, fileName, codeBeforeCursor string) []string {
	req := genclient.Request{
		Call:            "suggestions",
		History:         []genclient.Message{genclient.UserText(SuggestionsPrompt(fileName, codeBeforeCursor))},
		JSONSchema:      &suggestionsSchema,
		Temperature:     genclient.Float(0.2),
		MaxOutputTokens: 150,
	}
	resp, err := retry.Do(ctx, o.retry, req.Call, o.settings.Retry.Suggestions.Policy(), retry.IsTransient, func(ctx context.Context) (*genclient.Response, error) {
		return o.gen.Complete(ctx, req)
	})
	if err != nil {
		o.logger.Debug("code suggestions failed", "file", fileName, "err", err)
		return []string{}
	}
	var payload struct {
		Suggestions []any `json:"suggestions"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(resp.Text)), &payload); err != nil {
		o.logger.Debug("code suggestions not json", "file", fileName, "err", err)
		return []string{}
	}
	out := make([]string, 0, maxSuggestions)
	for _, item := range payload.Suggestions {
		s, ok := item.(string)
		if !ok {
			continue
		}
		out = append(out, s)
		if len(out) == maxSuggestions {
			break
		}
	}
	return out
}

func SuggestionsPrompt(fileName, codeBeforeCursor string) string {
	language := streamparse.FileType(fileName)
	if language == "" || language == fileName {
		language = "plaintext"
	}
	var b strings.Builder
	b.WriteString("You are a code completion assistant inside a code editor.\n")
	fmt.Fprintf(&b, "Using the context of the file %q, suggest what comes next. The cursor is at the end of this snippet:\n", fileName)
	fmt.Fprintf(&b, "```%s\n%s\n```\n", language, codeBeforeCursor)
	fmt.Fprintf(&b, "Give up to %d short completion suggestions.", maxSuggestions)
	return b.String()
}
