package processor

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func TestIconProcessor_Decode(t *testing.T) {
	tests := []struct {
		name          string
		imageData     []byte
		size          int
		expectedError string
		expectedW     int
		expectedH     int
	}{
		{
			name:      "Success - JPEG Scaled Down",
			imageData: createTestJPEG(640, 640, color.RGBA{R: 255, A: 255}),
			size:      256,
			expectedW: 256,
			expectedH: 256,
		},
		{
			name:      "Success - Non-Square Cropped",
			imageData: createTestPNG(300, 200, color.RGBA{G: 255, A: 255}),
			size:      128,
			expectedW: 128,
			expectedH: 128,
		},
		{
			name:      "Success - Small Image Scaled Up",
			imageData: createTestPNG(1, 1, color.RGBA{R: 128, G: 128, B: 128, A: 255}),
			size:      64,
			expectedW: 64,
			expectedH: 64,
		},
		{
			name:      "Success - Size Zero Keeps Original",
			imageData: createTestJPEG(120, 80, color.RGBA{B: 255, A: 255}),
			size:      0,
			expectedW: 120,
			expectedH: 80,
		},
		{
			name:          "Error - Invalid Image Data",
			imageData:     []byte("not-an-image"),
			size:          256,
			expectedError: "failed to decode image",
		},
		{
			name:          "Error - Empty Data",
			imageData:     []byte{},
			size:          256,
			expectedError: "failed to decode image",
		},
		{
			name:          "Error - Corrupted JPEG",
			imageData:     []byte{0xFF, 0xD8, 0xFF, 0x00, 0x00}, // Partial JPEG header
			size:          256,
			expectedError: "failed to decode image",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &IconProcessor{logger: zap.NewNop(), size: tt.size}
			img, err := p.Decode(tt.imageData)

			if tt.expectedError != "" {
				if err == nil {
					t.Fatalf("expected error containing '%s', got nil", tt.expectedError)
				}
				if !strings.Contains(err.Error(), tt.expectedError) {
					t.Errorf("expected error '%s' to contain '%s'", err.Error(), tt.expectedError)
				}
				return
			}

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			bounds := img.Bounds()
			if bounds.Dx() != tt.expectedW || bounds.Dy() != tt.expectedH {
				t.Errorf("expected %dx%d, got %dx%d", tt.expectedW, tt.expectedH, bounds.Dx(), bounds.Dy())
			}
		})
	}
}

// createTestJPEG generates a simple JPEG image for testing
func createTestJPEG(width, height int, col color.Color) []byte {
	buf := new(bytes.Buffer)
	if err := jpeg.Encode(buf, solid(width, height, col), &jpeg.Options{Quality: 80}); err != nil {
		panic("failed to create test JPEG: " + err.Error())
	}
	return buf.Bytes()
}

// createTestPNG generates a simple PNG image for testing
func createTestPNG(width, height int, col color.Color) []byte {
	buf := new(bytes.Buffer)
	if err := png.Encode(buf, solid(width, height, col)); err != nil {
		panic("failed to create test PNG: " + err.Error())
	}
	return buf.Bytes()
}

func solid(width, height int, col color.Color) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, col)
		}
	}
	return img
}
