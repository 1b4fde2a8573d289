// Package llm implements a conversion tier backed by a vision model on the
// OpenRouter chat completions API.
package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spherical/mdload/internal/domain"
	"github.com/spherical/mdload/internal/observability"
)

const (
	// DefaultBaseURL is the OpenRouter API root.
	DefaultBaseURL = "https://openrouter.ai/api/v1"
	defaultTimeout = 120 * time.Second
)

// Config configures one OpenRouter-backed tier.
type Config struct {
	APIKey    string
	BaseURL   string
	Model     string
	TierName  string
	Version   string
	Signature string
	Timeout   time.Duration
	Retry     *RetryConfig
	Logger    *observability.Logger

	// HTTPClient overrides the default client; Timeout is ignored when set.
	HTTPClient *http.Client
}

// Client handles communication with OpenRouter API
type Client struct {
	apiKey     string
	endpoint   string
	id         domain.ConverterIdentity
	retry      *RetryConfig
	httpClient *http.Client
	logger     *observability.Logger
}

// Message represents a chat message
type Message struct {
	Role    string        `json:"role"`
	Content []ContentPart `json:"content"`
}

// ContentPart represents a part of message content (text or image)
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL represents an image URL in the message
type ImageURL struct {
	URL string `json:"url"`
}

// Request represents the API request structure
type Request struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Stream      bool      `json:"stream"`
	Temperature float64   `json:"temperature"`
}

// Response represents the API response structure
type Response struct {
	ID      string     `json:"id"`
	Choices []Choice   `json:"choices"`
	Error   *APIFailed `json:"error,omitempty"`
}

// APIFailed is the error object OpenRouter embeds in a stream.
type APIFailed struct {
	Code    any    `json:"code"`
	Message string `json:"message"`
}

// Choice represents a single completion choice
type Choice struct {
	Delta        Delta  `json:"delta"`
	Message      Delta  `json:"message"`
	FinishReason string `json:"finish_reason"`
}

// Delta represents a message delta in streaming response
type Delta struct {
	Content string `json:"content"`
	Role    string `json:"role"`
}

// NewClient creates a new LLM client
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, domain.ConfigError("OPENROUTER_API_KEY is required for openrouter tiers", nil)
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, domain.ConfigError("model is required for openrouter tiers", nil)
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	retry := cfg.Retry
	if retry == nil {
		retry = DefaultRetryConfig()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = observability.NewNop()
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		apiKey:   cfg.APIKey,
		endpoint: strings.TrimRight(baseURL, "/") + "/chat/completions",
		id: domain.ConverterIdentity{
			TierName:         cfg.TierName,
			ModelID:          cfg.Model,
			ConverterVersion: cfg.Version,
			ConfigSignature:  cfg.Signature,
		},
		retry:      retry,
		httpClient: httpClient,
		logger:     logger.With().Str("tier", cfg.TierName).Str("model", cfg.Model).Logger(),
	}, nil
}

var _ domain.Converter = (*Client)(nil)

func (c *Client) Identity() domain.ConverterIdentity { return c.id }

// Convert sends every rendered page of the unit in one request and returns the
// streamed markdown.
func (c *Client) Convert(ctx context.Context, unit domain.Unit) (string, error) {
	if len(unit.Images) == 0 {
		return "", domain.ConverterFailure(fmt.Sprintf("%s has no rendered pages", unit.Label()), nil)
	}

	req, err := c.buildRequest(unit.Images)
	if err != nil {
		return "", domain.APIError("Failed to build request", err)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", domain.APIError("Failed to marshal request", err)
	}

	start := time.Now()
	resp, err := c.retryWithBackoff(ctx, func() (*http.Response, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}

		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
		httpReq.Header.Set("HTTP-Referer", "https://github.com/spherical/mdload")
		httpReq.Header.Set("X-Title", "mdload")

		return c.httpClient.Do(httpReq)
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", domain.APIError("Failed to send request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", domain.APIError(fmt.Sprintf("API returned status %d: %s", resp.StatusCode, string(bodyBytes)), nil)
	}

	text, err := c.parseStream(resp.Body)
	if err != nil {
		return "", err
	}

	c.logger.WithContext(ctx).Debug().
		Str("unit", unit.Label()).
		Int("chars", len(text)).
		Dur("elapsed", time.Since(start)).
		Msg("Model response received")

	return text, nil
}

// buildRequest constructs the API request with the page images in order
func (c *Client) buildRequest(imagePaths []string) (*Request, error) {
	parts := make([]ContentPart, 0, len(imagePaths)+1)
	parts = append(parts, ContentPart{Type: "text", Text: buildPrompt(len(imagePaths))})

	for _, path := range imagePaths {
		imageData, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read image: %w", err)
		}
		parts = append(parts, ContentPart{
			Type: "image_url",
			ImageURL: &ImageURL{
				URL: "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(imageData),
			},
		})
	}

	return &Request{
		Model:       c.id.ModelID,
		Messages:    []Message{{Role: "user", Content: parts}},
		Stream:      true,
		Temperature: 0,
	}, nil
}

// buildPrompt creates the transcription prompt
func buildPrompt(pages int) string {
	scope := "this document page"
	if pages > 1 {
		scope = fmt.Sprintf("these %d consecutive document pages", pages)
	}
	return `Transcribe ` + scope + ` into clean GitHub-flavored Markdown.

RULES:
- Reproduce ALL text in reading order; do not summarize, translate or add commentary
- Use # headings that mirror the visual hierarchy of the page
- Render every table as a Markdown table with a header row and a separator row (|---|---|)
- Every row of a table must have the same number of columns; repeat or leave cells empty rather than merging them
- Keep numbers, units and symbols exactly as printed
- Use plain text for formulas unless they are clearly mathematical; never wrap ordinary numbers in $
- Render lists as Markdown lists and preserve their nesting
- Omit running headers, footers and page numbers
- Describe figures only by their caption, if one is printed
- If text is unreadable, transcribe what is legible and continue

Output ONLY the Markdown, without code fences.`
}

// parseStream collects the Server-Sent Events stream into a single text
func (c *Client) parseStream(body io.Reader) (string, error) {
	var sb strings.Builder
	finish, err := NewStreamParser(body).ParseAll(func(s string) { sb.WriteString(s) })
	if err != nil {
		if errors.Is(err, ErrTruncatedStream) {
			return "", domain.ConverterFailure("model stream ended early", err)
		}
		return "", domain.APIError("Failed to parse stream", err)
	}
	if finish == "length" {
		return "", domain.ConverterFailure("model output hit the token limit", nil)
	}
	return strings.TrimSpace(sb.String()), nil
}
