package vision

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/fpang/card-restore/internal/ark"
	"github.com/fpang/card-restore/internal/imaging"
)

// ArkDescriber sends images to the Ark vision model as data URIs.
type ArkDescriber struct {
	Client *ark.Client
}

// Describe implements Describer.
func (d ArkDescriber) Describe(ctx context.Context, prompt string, jpeg []byte) (string, error) {
	return d.Client.Describe(ctx, prompt, imaging.DataURI(jpeg))
}

// DefaultGeminiModel is used when no Gemini vision model is configured.
const DefaultGeminiModel = "gemini-2.5-flash"

// GeminiDescriber sends images to a Gemini model as inline blobs.
type GeminiDescriber struct {
	client *genai.Client
	model  string
}

// NewGeminiDescriber creates a Gemini API client for vision calls.
func NewGeminiDescriber(ctx context.Context, apiKey, model string) (*GeminiDescriber, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	if model == "" {
		model = DefaultGeminiModel
	}
	return &GeminiDescriber{client: client, model: model}, nil
}

// Ping looks up the configured model to check that the API key is accepted.
func (d *GeminiDescriber) Ping(ctx context.Context) error {
	_, err := d.client.Models.Get(ctx, d.model, nil)
	return err
}

// Describe implements Describer.
func (d *GeminiDescriber) Describe(ctx context.Context, prompt string, jpeg []byte) (string, error) {
	parts := []*genai.Part{
		{InlineData: &genai.Blob{MIMEType: "image/jpeg", Data: jpeg}},
		{Text: prompt},
	}
	contents := []*genai.Content{{Role: "user", Parts: parts}}

	resp, err := d.client.Models.GenerateContent(ctx, d.model, contents, nil)
	if err != nil {
		return "", fmt.Errorf("failed to generate content: %w", err)
	}
	if resp == nil {
		return "", fmt.Errorf("received empty response from Gemini API")
	}
	return resp.Text(), nil
}
