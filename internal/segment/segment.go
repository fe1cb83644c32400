// Package segment splits combined multi-page text payloads on their page markers.
package segment

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// pageMarker matches markers such as "[ Seite 3 ]" or "[Titelblatt Seite 1]".
var pageMarker = regexp.MustCompile(`\[\s*.*?Seite\s*\d+\s*\]`)

// Split returns the trimmed page texts of content. The text before the first marker is kept as a
// page only when it is not blank.
func Split(content string) []string {
	parts := pageMarker.Split(content, -1)
	if len(parts) > 0 && strings.TrimSpace(parts[0]) == "" {
		parts = parts[1:]
	}
	pages := make([]string, len(parts))
	for i, p := range parts {
		pages[i] = strings.TrimSpace(p)
	}
	return pages
}

// SplitPages reads filePath and writes every page to outputDir as 1.txt, 2.txt, ... It returns the
// number of pages written.
func SplitPages(filePath, outputDir string) (int, error) {
	raw, err := os.ReadFile(filePath) // #nosec G304 -- caller controls the combined file path
	if err != nil {
		return 0, fmt.Errorf("read combined file: %w", err)
	}
	if err := os.MkdirAll(outputDir, 0o750); err != nil {
		return 0, fmt.Errorf("create page directory: %w", err)
	}
	pages := Split(string(raw))
	for i, page := range pages {
		name := filepath.Join(outputDir, strconv.Itoa(i+1)+".txt")
		if err := os.WriteFile(name, []byte(page), 0o600); err != nil {
			return i, fmt.Errorf("write page %d: %w", i+1, err)
		}
	}
	return len(pages), nil
}
