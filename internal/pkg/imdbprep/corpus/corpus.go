// Package corpus knows the on-disk layout of the IMDB movie review corpus.
package corpus

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"imdbprep/internal/pkg/imdbprep/fetch"
)

const (
	Train = "train"
	Test  = "test"

	archiveName = "aclImdb_v1.tar.gz"
	stagingDir  = ".extracting"
)

// Labels are enumerated in this order.
var Labels = []string{"pos", "neg"}

// Example is one raw labeled review.
type Example struct {
	Text  string
	Label string
}

// Dir returns the directory holding the extracted corpus under root.
func Dir(root string) string {
	return filepath.Join(root, "imdb", "aclImdb")
}

// Ensure downloads and extracts the corpus from url unless it is already
// present under root.
func Ensure(ctx context.Context, f *fetch.Fetcher, root, url string, logger zerolog.Logger) error {
	fs := f.Fs()
	ok, err := afero.DirExists(fs, Dir(root))
	if err != nil {
		return fmt.Errorf("failed to stat corpus: %w", err)
	}
	if ok {
		return nil
	}

	base := filepath.Join(root, "imdb")
	archive := filepath.Join(base, archiveName)
	if err := f.Ensure(ctx, url, archive); err != nil {
		return fmt.Errorf("failed to download corpus: %w", err)
	}

	// aclImdb only appears under base once fully extracted.
	staging := filepath.Join(base, stagingDir)
	if err := fs.RemoveAll(staging); err != nil {
		return fmt.Errorf("failed to clear %s: %w", staging, err)
	}
	defer func() { _ = fs.RemoveAll(staging) }()

	logger.Info().Str("archive", archive).Msg("Extracting corpus")
	if err := fetch.ExtractTarGz(fs, archive, staging); err != nil {
		return fmt.Errorf("failed to extract corpus: %w", err)
	}

	extracted := filepath.Join(staging, "aclImdb")
	ok, err = afero.DirExists(fs, extracted)
	if err != nil {
		return fmt.Errorf("failed to stat corpus: %w", err)
	}
	if !ok {
		return fmt.Errorf("archive %s has no aclImdb directory", archive)
	}
	if err := fs.Rename(extracted, Dir(root)); err != nil {
		return fmt.Errorf("failed to move corpus into place: %w", err)
	}
	return nil
}

// Load reads every review of split ("train" or "test"). Examples come
// label by label in Labels order, files sorted by name. Only the first line
// of each file is used.
func Load(fs afero.Fs, root, split string) ([]Example, error) {
	if split != Train && split != Test {
		return nil, fmt.Errorf("unknown split %q", split)
	}

	var out []Example
	for _, label := range Labels {
		dir := filepath.Join(Dir(root), split, label)
		infos, err := afero.ReadDir(fs, dir)
		if err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", dir, err)
		}
		for _, info := range infos {
			if info.IsDir() || filepath.Ext(info.Name()) != ".txt" {
				continue
			}
			text, err := firstLine(fs, filepath.Join(dir, info.Name()))
			if err != nil {
				return nil, err
			}
			out = append(out, Example{Text: text, Label: label})
		}
	}
	return out, nil
}

func firstLine(fs afero.Fs, path string) (string, error) {
	f, err := fs.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	line, err := bufio.NewReader(f).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
