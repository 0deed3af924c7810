package vision

import (
	"context"
	"errors"
)

// Label is a single recognized object with the service's confidence score (0-100).
type Label struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

// ClassificationResult is the normalized, ordered label list for one image.
type ClassificationResult struct {
	Labels []Label `json:"labels"`
}

// Config controls how raw service output is normalized
type Config struct {
	// MaxLabels caps the number of labels kept after filtering
	MaxLabels int
	// MinConfidence drops labels the service is less sure about
	MinConfidence float64
}

// DefaultConfig returns the standard detection settings
func DefaultConfig() Config {
	return Config{
		MaxLabels:     10,
		MinConfidence: 70,
	}
}

var (
	// ErrInvalidImage means the image could not be decoded; recapture, don't retry
	ErrInvalidImage = errors.New("invalid image")
	// ErrServiceUnavailable means the detection service could not be reached in time
	ErrServiceUnavailable = errors.New("detection service unavailable")
)

// Detector defines the interface for label detection backends
type Detector interface {
	// DetectLabels analyzes a still image and returns the recognized labels
	DetectLabels(ctx context.Context, imageData []byte) (*ClassificationResult, error)
	// Close closes the detector and releases resources
	Close() error
}

// normalize filters raw labels to those at or above the confidence floor,
// preserving service order, capped at MaxLabels.
func normalize(labels []Label, cfg Config) *ClassificationResult {
	kept := make([]Label, 0, len(labels))
	for _, l := range labels {
		if l.Confidence < cfg.MinConfidence {
			continue
		}
		kept = append(kept, l)
		if len(kept) == cfg.MaxLabels {
			break
		}
	}
	return &ClassificationResult{Labels: kept}
}
