// Package decision calls an LLM to choose the next navigation action
// during the exploratory phase and as the pagination fallback.
package decision

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/andybalholm/brotli"

	"github.com/linkwalk/linkwalk/internal/collector"
	"github.com/linkwalk/linkwalk/internal/config"
)

// Provider identifies the LLM backend.
type Provider string

const (
	ProviderOllama Provider = "ollama"
	ProviderOpenAI Provider = "openai"
	ProviderCustom Provider = "custom"
)

// Client implements the decision service against an LLM endpoint.
type Client struct {
	cfg    config.DecisionConfig
	client *http.Client
	logger *slog.Logger
}

// New creates a decision client for the configured provider.
func New(cfg config.DecisionConfig, logger *slog.Logger) *Client {
	return &Client{
		cfg: cfg,
		client: &http.Client{
			Timeout: 120 * time.Second,
			Transport: &http.Transport{
				DisableCompression: true,
			},
		},
		logger: logger.With("component", "decision"),
	}
}

const promptTemplate = `You are navigating a web page to collect item URLs.

Task: %s

The interactive elements on the current page, as JSON:
%s

Reply with a single JSON object and nothing else:
{"action": "click" | "scroll" | "done", "locator": "<one locator_candidates entry of the chosen element>", "delta": <scroll pixels, only for scroll>}

Choose "click" with the locator of the element that best advances the task,
"scroll" when the needed element is likely below the fold, or "done" when
the task cannot be advanced on this page.`

// Decide asks the model for the next action given the page state and the
// collection task.
func (c *Client) Decide(ctx context.Context, pageState, task string) (collector.Action, error) {
	prompt := fmt.Sprintf(promptTemplate, task, pageState)

	raw, err := c.generate(ctx, prompt)
	if err != nil {
		return collector.Action{}, fmt.Errorf("decision request: %w", err)
	}

	var reply struct {
		Action  string `json:"action"`
		Locator string `json:"locator"`
		Delta   int    `json:"delta"`
	}
	if err := json.Unmarshal([]byte(extractJSON(raw)), &reply); err != nil {
		return collector.Action{}, fmt.Errorf("decode decision reply: %w", err)
	}

	switch reply.Action {
	case "click":
		if reply.Locator == "" {
			return collector.Action{}, fmt.Errorf("decision reply: click without locator")
		}
		return collector.Action{Kind: collector.ActionClick, Locator: reply.Locator}, nil
	case "scroll":
		delta := reply.Delta
		if delta == 0 {
			delta = 600
		}
		return collector.Action{Kind: collector.ActionScroll, Delta: delta}, nil
	case "done":
		return collector.Action{Kind: collector.ActionDone}, nil
	default:
		return collector.Action{}, fmt.Errorf("decision reply: unknown action %q", reply.Action)
	}
}

func (c *Client) generate(ctx context.Context, prompt string) (string, error) {
	switch Provider(c.cfg.Provider) {
	case ProviderOllama:
		return c.generateOllama(ctx, prompt)
	case ProviderOpenAI:
		return c.generateOpenAI(ctx, prompt)
	case ProviderCustom:
		return c.generateCustom(ctx, prompt)
	default:
		return "", fmt.Errorf("unsupported decision provider: %s", c.cfg.Provider)
	}
}

func (c *Client) generateOllama(ctx context.Context, prompt string) (string, error) {
	payload := map[string]any{
		"model":  c.cfg.Model,
		"prompt": prompt,
		"stream": false,
		"options": map[string]any{
			"temperature": c.cfg.Temperature,
			"num_predict": c.cfg.MaxTokens,
		},
	}

	body, err := c.post(ctx, c.cfg.Endpoint+"/api/generate", payload, "")
	if err != nil {
		return "", fmt.Errorf("ollama request: %w", err)
	}

	var result struct {
		Response string `json:"response"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("decode ollama response: %w", err)
	}
	return result.Response, nil
}

func (c *Client) generateOpenAI(ctx context.Context, prompt string) (string, error) {
	payload := map[string]any{
		"model": c.cfg.Model,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
		"max_tokens":  c.cfg.MaxTokens,
		"temperature": c.cfg.Temperature,
	}

	endpoint := c.cfg.Endpoint
	if endpoint == "" {
		endpoint = "https://api.openai.com/v1"
	}

	body, err := c.post(ctx, endpoint+"/chat/completions", payload, c.cfg.APIKey)
	if err != nil {
		return "", fmt.Errorf("openai request: %w", err)
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", err
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("no choices in openai response")
	}
	return result.Choices[0].Message.Content, nil
}

func (c *Client) generateCustom(ctx context.Context, prompt string) (string, error) {
	payload := map[string]any{
		"prompt": prompt,
		"model":  c.cfg.Model,
	}

	body, err := c.post(ctx, c.cfg.Endpoint, payload, c.cfg.APIKey)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// post sends a JSON payload and returns the decompressed response body.
func (c *Client) post(ctx context.Context, url string, payload any, apiKey string) ([]byte, error) {
	data, _ := json.Marshal(payload)

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept-Encoding", "gzip, deflate, br")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	reader, err := decompressReader(resp)
	if err != nil {
		return nil, err
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

// decompressReader wraps the response body with the decoder matching its
// Content-Encoding. Handles gzip, deflate, and brotli (br).
func decompressReader(resp *http.Response) (io.Reader, error) {
	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		return gzip.NewReader(resp.Body)
	case "deflate":
		return flate.NewReader(resp.Body), nil
	case "br":
		return brotli.NewReader(resp.Body), nil
	default:
		return resp.Body, nil
	}
}

// extractJSON returns the first balanced JSON object in s. Models often
// wrap replies in prose or code fences.
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	if start < 0 {
		return "{}"
	}
	depth := 0
	for i := start; i < len(s); i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return "{}"
}
