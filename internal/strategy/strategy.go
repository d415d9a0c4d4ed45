// Package strategy defines the fixed set of generation strategies and the
// contract of the generative image service they run against.
package strategy

import (
	"context"

	"github.com/fpang/card-restore/internal/ark"
	"github.com/fpang/card-restore/internal/assets"
)

// Strategy is one prompt configuration for the generative service.
type Strategy struct {
	// Name is the label reported in results.
	Name string
	// Key is a stable ASCII identifier used in logs and metrics.
	Key string
	// NeedsVision strategies wait for the layout description.
	NeedsVision bool
	// NeedsReferenceImages strategies send the reference pool ahead of the card.
	NeedsReferenceImages bool
	// FrameCrop strategies ask the model for a red frame, so the geometric
	// crop is tried before the model crop.
	FrameCrop bool

	prompt func(layoutDescription string) string
}

// Prompt renders the strategy prompt for a layout description. Strategies
// that do not use the description ignore it.
func (s Strategy) Prompt(layoutDescription string) string {
	return s.prompt(layoutDescription)
}

func static(p string) func(string) string {
	return func(string) string { return p }
}

var strategies = []Strategy{
	{
		Name:   "静态生成",
		Key:    "static",
		prompt: static(assets.StaticPrompt),
	},
	{
		Name:        "视觉分析",
		Key:         "vision",
		NeedsVision: true,
		prompt:      assets.RenderVisionPrompt,
	},
	{
		Name:                 "内容锁定",
		Key:                  "content_lock",
		NeedsReferenceImages: true,
		FrameCrop:            true,
		prompt:               static(assets.ContentLockPrompt),
	},
	{
		Name:                 "参考图",
		Key:                  "reference",
		NeedsReferenceImages: true,
		FrameCrop:            true,
		prompt:               static(assets.ReferencePrompt),
	},
}

// All returns the strategies in their defined order.
func All() []Strategy {
	out := make([]Strategy, len(strategies))
	copy(out, strategies)
	return out
}

// Split partitions strategies into those that can start immediately and
// those that wait for the layout description, preserving order within each.
func Split(all []Strategy) (independent, dependent []Strategy) {
	for _, s := range all {
		if s.NeedsVision {
			dependent = append(dependent, s)
		} else {
			independent = append(independent, s)
		}
	}
	return independent, dependent
}

// GenerateRequest is one call to the generative service.
type GenerateRequest struct {
	Strategy string
	Prompt   string
	// Images are URLs or data URIs; reference images first, the card last.
	Images []string
	Size   string
}

// NewRequest builds the request for s. refs is the current reference
// snapshot and is included only for strategies that need it.
func NewRequest(s Strategy, layoutDescription, card string, refs []string, size string) GenerateRequest {
	var images []string
	if s.NeedsReferenceImages {
		images = make([]string, 0, len(refs)+1)
		images = append(images, refs...)
	}
	images = append(images, card)
	return GenerateRequest{
		Strategy: s.Key,
		Prompt:   s.Prompt(layoutDescription),
		Images:   images,
		Size:     size,
	}
}

// Generator produces one image and returns its short-lived URL.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, req GenerateRequest) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	return f(ctx, req)
}

// ArkGenerator runs requests against the Ark image generation endpoint.
type ArkGenerator struct {
	Client *ark.Client
}

// Generate implements Generator.
func (g ArkGenerator) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	return g.Client.GenerateImage(ctx, req.Prompt, req.Images, req.Size)
}
