// Package assets provides embedded static assets for the application.
//
// Prompt templates are stored as text files under prompts/ and embedded at
// compile time.
package assets

import (
	"bytes"
	_ "embed"
	"strings"
	"text/template"
)

// --- Vision prompts ---

// LayoutDescribePrompt asks the vision model for a structured description
// of the corrected card's layout. Text content is deliberately not read.
//
//go:embed prompts/layout-describe.txt
var LayoutDescribePrompt string

// BackgroundCheckPrompt asks the vision model whether the card background
// is a single solid color and for its hex value.
//
//go:embed prompts/background-check.txt
var BackgroundCheckPrompt string

// --- Generation prompts ---

// StaticPrompt redraws the card with no layout guidance.
//
//go:embed prompts/strategy-static.txt
var StaticPrompt string

// ContentLockPrompt uses figures 1-4 for style only and locks all content
// to figure 5. The output is drawn inside a red frame.
//
//go:embed prompts/strategy-content-lock.txt
var ContentLockPrompt string

// ReferencePrompt uses figures 1-4 as references for redrawing figure 5
// inside a red frame.
//
//go:embed prompts/strategy-reference.txt
var ReferencePrompt string

//go:embed prompts/strategy-vision.txt
var visionTemplate string

var visionPromptTmpl = template.Must(template.New("vision").Parse(visionTemplate))

// VisionPromptData holds the dynamic data injected into the vision prompt.
type VisionPromptData struct {
	// LayoutDescription is the vision model's layout analysis. Empty when
	// the analysis failed or timed out.
	LayoutDescription string
}

// RenderVisionPrompt renders the layout-guided generation prompt.
func RenderVisionPrompt(layoutDescription string) string {
	var buf bytes.Buffer
	// Execution errors are not expected with this template; return whatever
	// was rendered.
	_ = visionPromptTmpl.Execute(&buf, VisionPromptData{LayoutDescription: layoutDescription})
	return strings.TrimSpace(buf.String())
}
