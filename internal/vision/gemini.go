package vision

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// detectTimeout bounds a single classification call; past it the service
// counts as unavailable.
const detectTimeout = 10 * time.Second

// Gemini implements the Detector interface using Google Gemini
type Gemini struct {
	client *genai.Client
	model  *genai.GenerativeModel
	cfg    Config
}

// NewGemini creates a new Gemini Detector instance
func NewGemini(apiKey string, modelName string, cfg Config) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if modelName == "" {
		modelName = "gemini-2.5-pro"
	}

	ctx := context.Background()
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	model := client.GenerativeModel(modelName)

	return &Gemini{
		client: client,
		model:  model,
		cfg:    cfg,
	}, nil
}

// DetectLabels analyzes a still image and returns the recognized labels
func (g *Gemini) DetectLabels(ctx context.Context, imageData []byte) (*ClassificationResult, error) {
	ctx, cancel := context.WithTimeout(ctx, detectTimeout)
	defer cancel()

	// Convert to PNG if needed; a local decode failure means the capture is unusable
	finalImageData, _, err := prepareImageData(imageData)
	if err != nil {
		return nil, err
	}

	// genai.ImageData expects just the format suffix, and after
	// prepareImageData everything is PNG
	parts := []genai.Part{
		genai.ImageData("png", finalImageData),
		genai.Text(labelDetectPrompt),
	}

	resp, err := g.model.GenerateContent(ctx, parts...)
	if err != nil {
		return nil, fmt.Errorf("generating content: %w: %w", ErrServiceUnavailable, err)
	}

	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("no response from gemini: %w", ErrServiceUnavailable)
	}

	var responseText strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			responseText.WriteString(string(text))
		}
	}

	labels, err := parseLabelJSON(responseText.String())
	if err != nil {
		return nil, fmt.Errorf("parsing label data: %w", err)
	}

	return normalize(labels, g.cfg), nil
}

// Close closes the Gemini client
func (g *Gemini) Close() error {
	return g.client.Close()
}
