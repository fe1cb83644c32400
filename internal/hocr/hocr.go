// Package hocr extracts plain text lines from hOCR documents.
package hocr

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// lineSelector covers the line-level hOCR classes emitted by common OCR engines.
const lineSelector = ".ocr_line, .ocrx_line, .ocr_header, .ocr_caption, .ocr_textfloat"

// Converter extracts lines with goquery. It is the default converter.
type Converter struct{}

// Convert returns one line of text per hOCR line element, words separated by single spaces.
// Documents without line markup fall back to their whitespace-normalized body text.
func (Converter) Convert(_ context.Context, hocr []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(hocr))
	if err != nil {
		return "", fmt.Errorf("parse hocr: %w", err)
	}

	var lines []string
	doc.Find(lineSelector).Each(func(_ int, line *goquery.Selection) {
		if line.ParentsFiltered(lineSelector).Length() > 0 {
			return
		}
		var words []string
		line.Find(".ocrx_word, .ocr_word").Each(func(_ int, w *goquery.Selection) {
			if text := strings.TrimSpace(w.Text()); text != "" {
				words = append(words, text)
			}
		})
		if len(words) == 0 {
			words = strings.Fields(line.Text())
		}
		if len(words) > 0 {
			lines = append(lines, strings.Join(words, " "))
		}
	})

	if len(lines) == 0 {
		body := strings.Join(strings.Fields(doc.Find("body").Text()), " ")
		if body == "" {
			return "", nil
		}
		return body + "\n", nil
	}
	return strings.Join(lines, "\n") + "\n", nil
}

// CommandConverter runs an external tool such as hocr-lines with the hOCR file as last argument
// and returns its standard output.
type CommandConverter struct {
	Command string
	Args    []string
}

// Convert writes hocr to a temporary file and runs the command on it.
func (c CommandConverter) Convert(ctx context.Context, hocr []byte) (string, error) {
	if c.Command == "" {
		return "", fmt.Errorf("hocr command is required")
	}
	tmp, err := os.CreateTemp("", "page-*.hocr")
	if err != nil {
		return "", fmt.Errorf("create temp hocr file: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // best-effort cleanup
	if _, err := tmp.Write(hocr); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("write temp hocr file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close temp hocr file: %w", err)
	}

	args := append(append([]string(nil), c.Args...), tmp.Name())
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.Command, args...) // #nosec G204 -- command comes from operator config
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("run %s: %w: %s", c.Command, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}
