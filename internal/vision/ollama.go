package vision

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-resty/resty/v2"
)

// Ollama implements the Detector interface against a local Ollama instance
type Ollama struct {
	client *resty.Client
	model  string
	cfg    Config
}

// NewOllama creates a new Ollama Detector instance.
// Vision-capable models (llava, llava:1.6, qwen2-vl, bakllava) are required.
func NewOllama(baseURL string, modelName string, cfg Config) (*Ollama, error) {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if modelName == "" {
		modelName = "llava"
	}

	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(detectTimeout)

	return &Ollama{
		client: client,
		model:  modelName,
		cfg:    cfg,
	}, nil
}

// ollamaChatRequest represents the request body for Ollama's chat API
type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
}

type ollamaMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

// ollamaChatResponse represents the response from Ollama's chat API
type ollamaChatResponse struct {
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
}

// DetectLabels analyzes a still image and returns the recognized labels
func (o *Ollama) DetectLabels(ctx context.Context, imageData []byte) (*ClassificationResult, error) {
	// Convert to PNG if needed; a local decode failure means the capture is unusable
	finalImageData, _, err := prepareImageData(imageData)
	if err != nil {
		return nil, err
	}

	reqBody := ollamaChatRequest{
		Model:  o.model,
		Stream: false,
		Messages: []ollamaMessage{
			{
				Role:    "system",
				Content: "You are an expert at identifying objects in photographs. You must carefully examine images and list every object you can recognize.",
			},
			{
				Role:    "user",
				Content: labelDetectPrompt,
				Images:  []string{base64.StdEncoding.EncodeToString(finalImageData)},
			},
		},
	}

	resp, err := o.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(reqBody).
		Post("/api/chat")
	if err != nil {
		return nil, fmt.Errorf("calling ollama API: %w: %w", ErrServiceUnavailable, err)
	}

	switch {
	case resp.StatusCode() == http.StatusOK:
		// fall through to decode
	case resp.StatusCode() >= 400 && resp.StatusCode() < 500:
		return nil, fmt.Errorf("ollama rejected image (status %d): %w", resp.StatusCode(), ErrInvalidImage)
	default:
		return nil, fmt.Errorf("ollama API error (status %d): %w", resp.StatusCode(), ErrServiceUnavailable)
	}

	var chatResp ollamaChatResponse
	if err := json.Unmarshal(resp.Body(), &chatResp); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	labels, err := parseLabelJSON(chatResp.Message.Content)
	if err != nil {
		return nil, fmt.Errorf("parsing label data: %w", err)
	}

	return normalize(labels, o.cfg), nil
}

// Close closes the Ollama client (no-op for HTTP client)
func (o *Ollama) Close() error {
	return nil
}
