// Package ark is a REST client for the Volcengine Ark model API: the
// OpenAI-compatible chat completions endpoint (used for vision analysis)
// and the image generation endpoint.
package ark

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// Defaults for the Ark API.
const (
	DefaultBaseURL     = "https://ark.cn-beijing.volces.com/api/v3"
	DefaultGenModel    = "doubao-seedream-4-5-251128"
	DefaultVisionModel = "doubao-seed-1-6-vision-250815"
	DefaultSize        = "3000x1824"
)

// Client calls the Ark API.
type Client struct {
	apiKey      string
	baseURL     string
	genModel    string
	visionModel string
	httpClient  *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API base URL.
func WithBaseURL(u string) Option { return func(c *Client) { c.baseURL = u } }

// WithModels overrides the generation and vision model IDs.
func WithModels(gen, vision string) Option {
	return func(c *Client) {
		if gen != "" {
			c.genModel = gen
		}
		if vision != "" {
			c.visionModel = vision
		}
	}
}

// WithTimeout sets the per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// NewClient creates an Ark client.
func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:      apiKey,
		baseURL:     DefaultBaseURL,
		genModel:    DefaultGenModel,
		visionModel: DefaultVisionModel,
		httpClient: &http.Client{
			Timeout: 180 * time.Second, // generation at 3000x1824 can take a minute
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// --- REST API request/response types ---

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *apiError `json:"error,omitempty"`
}

type imageRequest struct {
	Model          string   `json:"model"`
	Prompt         string   `json:"prompt"`
	Image          []string `json:"image,omitempty"`
	Size           string   `json:"size,omitempty"`
	ResponseFormat string   `json:"response_format"`
	Watermark      bool     `json:"watermark"`
}

type imageResponse struct {
	Data []struct {
		URL string `json:"url"`
	} `json:"data"`
	Error *apiError `json:"error,omitempty"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Describe sends prompt plus one image (as a data URI or URL) to the vision
// model and returns the text reply.
func (c *Client) Describe(ctx context.Context, prompt, image string) (string, error) {
	req := chatRequest{
		Model: c.visionModel,
		Messages: []chatMessage{{
			Role: "user",
			Content: []contentPart{
				{Type: "text", Text: prompt},
				{Type: "image_url", ImageURL: &imageURL{URL: image}},
			},
		}},
	}

	var resp chatResponse
	if err := c.post(ctx, "/chat/completions", req, &resp); err != nil {
		return "", err
	}
	if resp.Error != nil {
		return "", fmt.Errorf("ark error %s: %s", resp.Error.Code, resp.Error.Message)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices in vision response")
	}
	return resp.Choices[0].Message.Content, nil
}

// Ping sends a one-word text prompt to the vision model. It is used to
// check that the API key is accepted.
func (c *Client) Ping(ctx context.Context) error {
	req := chatRequest{
		Model: c.visionModel,
		Messages: []chatMessage{{
			Role:    "user",
			Content: []contentPart{{Type: "text", Text: "ping"}},
		}},
	}
	var resp chatResponse
	if err := c.post(ctx, "/chat/completions", req, &resp); err != nil {
		return err
	}
	if resp.Error != nil {
		return fmt.Errorf("ark error %s: %s", resp.Error.Code, resp.Error.Message)
	}
	return nil
}

// GenerateImage asks the generation model for one image and returns its
// short-lived URL. Images are passed in order; the model reads them as
// figure 1..n.
func (c *Client) GenerateImage(ctx context.Context, prompt string, images []string, size string) (string, error) {
	if size == "" {
		size = DefaultSize
	}
	req := imageRequest{
		Model:          c.genModel,
		Prompt:         prompt,
		Image:          images,
		Size:           size,
		ResponseFormat: "url",
		Watermark:      false,
	}

	var resp imageResponse
	if err := c.post(ctx, "/images/generations", req, &resp); err != nil {
		return "", err
	}
	if resp.Error != nil {
		return "", fmt.Errorf("ark error %s: %s", resp.Error.Code, resp.Error.Message)
	}
	if len(resp.Data) == 0 || resp.Data[0].URL == "" {
		return "", fmt.Errorf("no image URL in generation response")
	}
	return resp.Data[0].URL, nil
}

func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	start := time.Now()
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		log.Error().
			Int("status", resp.StatusCode).
			Str("path", path).
			Str("body", truncateString(string(respBody), 500)).
			Msg("Ark API returned error status")
		return &APIError{StatusCode: resp.StatusCode, Body: truncateString(string(respBody), 200)}
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	log.Debug().
		Str("path", path).
		Int("request_bytes", len(body)).
		Dur("duration", time.Since(start)).
		Msg("Ark API call complete")
	return nil
}

// APIError is a non-200 response from the Ark API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ark API returned status %d: %s", e.StatusCode, e.Body)
}

func truncateString(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
