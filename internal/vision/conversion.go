package vision

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	"image/png"
	"strings"

	"github.com/gen2brain/heic"
)

// labelDetectPrompt is the shared prompt used by all vision model backends
const labelDetectPrompt = `You are analyzing a photo taken by a recycling deposit machine. Identify every distinct object visible in the image.

Return ONLY valid JSON in this exact format:
[
  {"name": "Plastic Bottle", "confidence": 92},
  {"name": "Table", "confidence": 81}
]

Important:
- "name" is a short English noun phrase for the object (e.g. "Plastic Bottle", "Aluminum Can", "Tree")
- "confidence" is a number between 0 and 100 reflecting how certain you are the object is present
- List labels from most to least confident
- List at most 15 labels
- Do not include any text before or after the JSON
- Do not use markdown code blocks`

// imageToPNG converts any supported image format to PNG
func imageToPNG(imageData []byte) ([]byte, error) {
	var img image.Image
	var err error

	// HEIC/HEIF (common on iPhones) is not supported by Go's standard image package
	if isHEICFormat(imageData) {
		img, err = heic.Decode(bytes.NewReader(imageData))
		if err != nil {
			return nil, fmt.Errorf("decoding HEIC/HEIF image: %w", ErrInvalidImage)
		}
	} else {
		img, _, err = image.Decode(bytes.NewReader(imageData))
		if err != nil {
			return nil, fmt.Errorf("decoding image (supported formats: JPEG, PNG, GIF, HEIC): %w", ErrInvalidImage)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}

	return buf.Bytes(), nil
}

// isHEICFormat checks if the image data is in HEIC/HEIF format
func isHEICFormat(data []byte) bool {
	if len(data) < 12 {
		return false
	}
	// HEIC containers carry an ftyp box at offset 4 with an HEIC-related brand
	if string(data[4:8]) == "ftyp" {
		brand := string(data[8:12])
		if brand == "heic" || brand == "heif" || brand == "mif1" || brand == "msf1" {
			return true
		}
	}
	return false
}

// isPNGFormat checks for the PNG magic bytes
func isPNGFormat(data []byte) bool {
	return len(data) >= 8 && bytes.Equal(data[:8], []byte("\x89PNG\r\n\x1a\n"))
}

// prepareImageData converts a captured still to PNG if it isn't one already.
// Returns the PNG data and whether conversion occurred.
func prepareImageData(imageData []byte) ([]byte, bool, error) {
	if len(imageData) == 0 {
		return nil, false, fmt.Errorf("empty image: %w", ErrInvalidImage)
	}
	if isPNGFormat(imageData) {
		return imageData, false, nil
	}
	pngData, err := imageToPNG(imageData)
	if err != nil {
		return nil, false, err
	}
	return pngData, true, nil
}

// trimMarkdownFences strips the code fences vision models like to wrap JSON in
func trimMarkdownFences(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}
