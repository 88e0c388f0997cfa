// Package ai provides the article rewrite client used by the aggregation
// finalize step.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dkoeder/gleaner/internal/models"
)

const (
	chatTimeout    = 120 * time.Second
	errorBodyLimit = 1024
)

const rewriteSystemPrompt = `You rewrite news articles for a personal feed reader.

RULES:
- Keep the SAME language as the original article
- Preserve all HTML tags, attributes, links, and images exactly as they are
- Rewrite only the text content for clarity and brevity
- Output ONLY the rewritten HTML, nothing else
- Do NOT add commentary, disclaimers, or meta-text`

// Rewriter talks to an OpenAI-compatible chat completions endpoint. Provider
// parameters (URL, key, model, retry policy) come from the active per-user
// provider row and are passed per call.
type Rewriter struct {
	httpClient *http.Client
	delayUnit  time.Duration
}

// NewRewriter creates a Rewriter.
func NewRewriter() *Rewriter {
	return &Rewriter{
		httpClient: &http.Client{Timeout: chatTimeout},
		delayUnit:  time.Second,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatRequest is the JSON body sent to POST /chat/completions.
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Rewrite sends the article body through the provider's model and returns the
// rewritten HTML. Failed calls are retried with exponential backoff until the
// provider's retry count or total time budget is spent; a retry is skipped
// when waiting for it would already overshoot the budget.
func (r *Rewriter) Rewrite(ctx context.Context, provider models.AIProvider, title, body string) (string, error) {
	baseDelay := time.Duration(provider.RetryBaseDelay) * r.delayUnit
	budget := time.Duration(provider.MaxRetryTime) * r.delayUnit
	start := time.Now()

	var lastErr error
	for attempt := 0; attempt <= provider.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := baseDelay * time.Duration(1<<uint(attempt-1))
			if budget > 0 && time.Since(start)+delay > budget {
				break
			}
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(delay):
			}
		}

		out, err := r.chat(ctx, provider, title, body)
		if err == nil {
			return out, nil
		}
		lastErr = err
	}

	return "", fmt.Errorf("ai rewrite: %w", lastErr)
}

func (r *Rewriter) chat(ctx context.Context, provider models.AIProvider, title, body string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, chatTimeout)
	defer cancel()

	reqBody := chatRequest{
		Model: provider.Model,
		Messages: []chatMessage{
			{Role: "system", Content: rewriteSystemPrompt},
			{Role: "user", Content: "Title: " + title + "\n\n" + body},
		},
		Temperature: provider.Temperature,
		MaxTokens:   provider.MaxTokens,
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	endpoint := strings.TrimRight(provider.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+provider.APIKey)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		return "", fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var result chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("empty choices")
	}

	out := cleanResponse(result.Choices[0].Message.Content)
	if out == "" {
		return "", fmt.Errorf("empty rewrite")
	}
	return out, nil
}

// cleanResponse strips the markdown code fence some models wrap HTML output
// in. Returns empty string when nothing usable remains.
func cleanResponse(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```html")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
	}
	return strings.TrimSpace(s)
}
