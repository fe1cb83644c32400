package convert

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/zeynepaki/tgv-prototype/internal/archive"
)

// Enumerate walks the root of every processor for *.txt files and returns them as artifacts tagged
// with their archive, in lexical path order. Files a processor cannot place in its layout are
// skipped and counted.
func Enumerate(dataRoot string, processors []archive.Processor, logger *zap.Logger) ([]archive.Artifact, int, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var (
		out     []archive.Artifact
		skipped int
	)
	for _, p := range processors {
		root := p.Kind().Root(dataRoot)
		if _, err := os.Stat(root); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".txt") {
				return nil
			}
			rel, err := filepath.Rel(root, path)
			if err != nil {
				return err
			}
			art, err := p.ParseArtifact(rel)
			if err != nil {
				skipped++
				logger.Debug("Skipping unrecognized path",
					zap.String("source", string(p.Kind())),
					zap.String("path", path),
					zap.Error(err))
				return nil
			}
			out = append(out, art)
			return nil
		})
		if err != nil {
			return nil, skipped, fmt.Errorf("walk %s: %w", root, err)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, skipped, nil
}
