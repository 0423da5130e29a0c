// Package ocr turns price board images into text.
package ocr

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Recognizer returns one text per image path, in input order.
type Recognizer interface {
	Recognize(ctx context.Context, paths []string) ([]string, error)
}

// Tesseract runs the tesseract command line tool for every image.
type Tesseract struct {
	Binary   string
	Language string
}

// NewTesseract creates a Tesseract recognizer. An empty binary means
// "tesseract" on PATH.
func NewTesseract(binary, language string) *Tesseract {
	if binary == "" {
		binary = "tesseract"
	}
	return &Tesseract{Binary: binary, Language: language}
}

func (t *Tesseract) Recognize(ctx context.Context, paths []string) ([]string, error) {
	texts := make([]string, 0, len(paths))
	for _, path := range paths {
		args := []string{path, "stdout"}
		if t.Language != "" {
			args = append(args, "-l", t.Language)
		}

		var stdout, stderr bytes.Buffer
		cmd := exec.CommandContext(ctx, t.Binary, args...)
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
		if err := cmd.Run(); err != nil {
			return nil, fmt.Errorf("ocr %s: %w: %s", path, err, strings.TrimSpace(stderr.String()))
		}
		texts = append(texts, stdout.String())
	}
	return texts, nil
}

// Sidecar reads text that was recognized ahead of time and stored next to
// the image as <image>.txt.
type Sidecar struct{}

func (Sidecar) Recognize(ctx context.Context, paths []string) ([]string, error) {
	texts := make([]string, 0, len(paths))
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		b, err := os.ReadFile(path + ".txt")
		if err != nil {
			return nil, fmt.Errorf("ocr sidecar for %s: %w", path, err)
		}
		texts = append(texts, string(b))
	}
	return texts, nil
}
