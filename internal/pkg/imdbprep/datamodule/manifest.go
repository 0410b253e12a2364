package datamodule

import (
	"fmt"
	"slices"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/afero"
)

const manifestVersion = 1

// fingerprint holds the settings that shape the vocabulary files.
type fingerprint struct {
	Tokenizer       string   `toml:"tokenizer"`
	Preprocessing   []string `toml:"preprocessing"`
	CustomTokenFunc bool     `toml:"custom_token_func"`
	VocabSize       int      `toml:"vocab_size"`
	MinFreq         int      `toml:"min_freq"`
	Pretrained      string   `toml:"pretrained"`
	Seed            string   `toml:"seed"`
	CorpusURL       string   `toml:"corpus_url"`
}

func (f fingerprint) equal(o fingerprint) bool {
	return f.Tokenizer == o.Tokenizer &&
		slices.Equal(f.Preprocessing, o.Preprocessing) &&
		f.CustomTokenFunc == o.CustomTokenFunc &&
		f.VocabSize == o.VocabSize &&
		f.MinFreq == o.MinFreq &&
		f.Pretrained == o.Pretrained &&
		f.Seed == o.Seed &&
		f.CorpusURL == o.CorpusURL
}

type stats struct {
	Examples     int `toml:"examples"`
	TextSize     int `toml:"text_size"`
	LabelSize    int `toml:"label_size"`
	Dim          int `toml:"dim"`
	VectorsFound int `toml:"vectors_found"`
}

type manifest struct {
	Version int         `toml:"version"`
	Config  fingerprint `toml:"config"`
	Stats   stats       `toml:"stats"`
}

func writeManifest(fs afero.Fs, path string, m manifest) error {
	data, err := toml.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := afero.WriteFile(fs, path, data, 0644); err != nil {
		return fmt.Errorf("failed to write manifest %s: %w", path, err)
	}
	return nil
}

func readManifest(fs afero.Fs, path string) (manifest, error) {
	var m manifest
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return m, fmt.Errorf("failed to read manifest %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("failed to decode manifest %s: %w", path, err)
	}
	if m.Version != manifestVersion {
		return m, fmt.Errorf("manifest %s has version %d, want %d", path, m.Version, manifestVersion)
	}
	return m, nil
}
