package generation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/photo-restore/internal/domain"
	"github.com/cuongbtq/photo-restore/internal/prompt"
	"google.golang.org/genai"
)

// DefaultModel is the image model used when none is configured
const DefaultModel = "gemini-3-pro-image-preview"

// Generator is the subset of the genai models service used by the invoker
type Generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiConfig holds Gemini client configuration
type GeminiConfig struct {
	APIKey string
	Model  string
}

// GeminiInvoker restores images with a single Gemini generateContent call.
// It never retries.
type GeminiInvoker struct {
	generator Generator
	model     string
	logger    *slog.Logger
}

// NewGeminiInvoker creates an invoker backed by the Gemini API
func NewGeminiInvoker(ctx context.Context, cfg GeminiConfig, logger *slog.Logger) (*GeminiInvoker, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	return NewInvoker(client.Models, cfg.Model, logger), nil
}

// NewInvoker creates an invoker over any Generator
func NewInvoker(generator Generator, model string, logger *slog.Logger) *GeminiInvoker {
	if model == "" {
		model = DefaultModel
	}
	return &GeminiInvoker{
		generator: generator,
		model:     model,
		logger:    logger,
	}
}

// Restore sends the prompt document and the source image to the model and returns the first
// inline image of the response. The size hint is only sent when a resolution is given.
func (i *GeminiInvoker) Restore(ctx context.Context, image []byte, mimeType string, doc prompt.Document, resolution domain.Resolution) ([]byte, error) {
	text, err := doc.Text()
	if err != nil {
		return nil, fmt.Errorf("failed to render prompt: %w", err)
	}

	if mimeType == "" {
		mimeType = domain.DefaultMimeType
	}

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromText(text),
			genai.NewPartFromBytes(image, mimeType),
		}, genai.RoleUser),
	}

	config := &genai.GenerateContentConfig{}
	if size := resolution.ProviderSize(); size != "" {
		config.ImageConfig = &genai.ImageConfig{ImageSize: size}
	}

	start := time.Now()
	resp, err := i.generator.GenerateContent(ctx, i.model, contents, config)
	if err != nil {
		i.logger.Error("Image generation request failed",
			slog.String("model", i.model),
			slog.Duration("elapsed", time.Since(start)),
			slog.Any("error", err),
		)
		return nil, fmt.Errorf("%w: %w", domain.ErrUpstreamGeneration, err)
	}

	data := firstInlineImage(resp)
	if data == nil {
		i.logger.Error("Image generation returned no image",
			slog.String("model", i.model),
			slog.Duration("elapsed", time.Since(start)),
		)
		return nil, fmt.Errorf("%w: no image data in model response", domain.ErrUpstreamGeneration)
	}

	i.logger.Debug("Image generated",
		slog.String("model", i.model),
		slog.String("resolution", string(resolution)),
		slog.Int("input_size", len(image)),
		slog.Int("output_size", len(data)),
		slog.Duration("elapsed", time.Since(start)),
	)

	return data, nil
}

func firstInlineImage(resp *genai.GenerateContentResponse) []byte {
	if resp == nil || len(resp.Candidates) == 0 {
		return nil
	}
	candidate := resp.Candidates[0]
	if candidate == nil || candidate.Content == nil {
		return nil
	}
	for _, part := range candidate.Content.Parts {
		if part != nil && part.InlineData != nil && len(part.InlineData.Data) > 0 {
			return part.InlineData.Data
		}
	}
	return nil
}
