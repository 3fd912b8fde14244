package search

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/kadirpekel/optica/pkg/a2a"
)

// ImageDescriber turns an image into searchable text: frame shape, color,
// material and style.
type ImageDescriber interface {
	Describe(ctx context.Context, image *a2a.Attachment) (string, error)
}

// DescriberFunc adapts a function to ImageDescriber.
type DescriberFunc func(ctx context.Context, image *a2a.Attachment) (string, error)

func (f DescriberFunc) Describe(ctx context.Context, image *a2a.Attachment) (string, error) {
	return f(ctx, image)
}

const describePrompt = `Describe the eyewear in this image for a product search.
List only: frame shape, frame color, lens color, material, style, and who it suits.
Answer with short comma-separated keywords in English.`

// GeminiDescriber describes images with a Gemini vision model.
type GeminiDescriber struct {
	client *genai.Client
	model  string
}

func NewGeminiDescriber(client *genai.Client, model string) (*GeminiDescriber, error) {
	if client == nil {
		return nil, fmt.Errorf("genai client is required")
	}
	if model == "" {
		model = "gemini-2.5-flash"
	}
	return &GeminiDescriber{client: client, model: model}, nil
}

func (d *GeminiDescriber) Describe(ctx context.Context, image *a2a.Attachment) (string, error) {
	var part *genai.Part
	if image.Bytes != "" {
		data, err := image.Content()
		if err != nil {
			return "", fmt.Errorf("failed to decode image %q: %w", image.Name, err)
		}
		part = genai.NewPartFromBytes(data, image.MimeType)
	} else if image.URI != "" {
		part = genai.NewPartFromURI(image.URI, image.MimeType)
	} else {
		return "", fmt.Errorf("image %q has no content", image.Name)
	}

	resp, err := d.client.Models.GenerateContent(ctx, d.model, []*genai.Content{{
		Role:  "user",
		Parts: []*genai.Part{part, genai.NewPartFromText(describePrompt)},
	}}, nil)
	if err != nil {
		return "", fmt.Errorf("image description failed: %w", err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("model returned no description")
	}
	return text, nil
}
