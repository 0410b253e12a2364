// Package datamodule prepares the IMDB sentiment dataset for training: it
// builds and persists the vocabularies once, then materializes the
// train/validation/test splits and hands out batch iterators over them.
package datamodule

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math/rand/v2"
	"path/filepath"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"

	"imdbprep/internal/pkg/imdbprep/config"
	"imdbprep/internal/pkg/imdbprep/corpus"
	"imdbprep/internal/pkg/imdbprep/dataset"
	"imdbprep/internal/pkg/imdbprep/embedding"
	"imdbprep/internal/pkg/imdbprep/fetch"
	"imdbprep/internal/pkg/imdbprep/iterator"
	"imdbprep/internal/pkg/imdbprep/preprocess"
	"imdbprep/internal/pkg/imdbprep/tokenizer"
	"imdbprep/internal/pkg/imdbprep/vocab"
)

const (
	TextFile     = "TEXT.pt"
	LabelFile    = "LABEL.pt"
	ManifestFile = "vocab.toml"
)

// rng streams, so that each consumer draws an independent sequence from
// the configured seed.
const (
	streamVectors uint64 = iota + 1
	streamSplit
	streamShuffle
)

type DataModule struct {
	cfg       *config.Config
	fs        afero.Fs
	fetcher   *fetch.Fetcher
	logger    zerolog.Logger
	tokenFunc preprocess.TokenFunc

	text  *dataset.TextField
	label *dataset.LabelField

	train, val, test *dataset.Dataset
	padIndex         int
}

type Option func(*DataModule)

func WithLogger(l zerolog.Logger) Option {
	return func(m *DataModule) {
		m.logger = l
	}
}

// WithFs sets the filesystem for the corpus, vector cache and vocabulary
// files. The default is the OS filesystem.
func WithFs(afs afero.Fs) Option {
	return func(m *DataModule) {
		m.fs = afs
	}
}

// WithFetcher overrides the downloader. Its filesystem takes precedence over
// WithFs.
func WithFetcher(f *fetch.Fetcher) Option {
	return func(m *DataModule) {
		m.fetcher = f
	}
}

// WithTokenFunc appends fn to the configured token transforms.
func WithTokenFunc(fn preprocess.TokenFunc) Option {
	return func(m *DataModule) {
		m.tokenFunc = fn
	}
}

func New(cfg *config.Config, opts ...Option) (*DataModule, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	m := &DataModule{cfg: cfg, logger: log.Logger}
	for _, opt := range opts {
		opt(m)
	}

	if m.fetcher != nil {
		m.fs = m.fetcher.Fs()
	} else {
		if m.fs == nil {
			m.fs = afero.NewOsFs()
		}
		m.fetcher = fetch.New(m.fs, fetch.WithRegion(cfg.S3Region), fetch.WithLogger(m.logger))
	}

	tok, err := tokenizer.New(cfg.Tokenizer)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokenizer: %w", err)
	}
	transform, err := preprocess.Chain(cfg.Preprocessing)
	if err != nil {
		return nil, fmt.Errorf("failed to create token transforms: %w", err)
	}

	m.text = &dataset.TextField{
		Tokenizer: tok,
		Cleaner:   preprocess.NewCleaner(),
		Transform: preprocess.Compose(transform, m.tokenFunc),
	}
	m.label = &dataset.LabelField{}
	return m, nil
}

func (m *DataModule) Config() *config.Config { return m.cfg }

func (m *DataModule) path(name string) string {
	return filepath.Join(m.cfg.DataDir, name)
}

func (m *DataModule) rng(stream uint64) *rand.Rand {
	if m.cfg.Seed == 0 {
		return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return rand.New(rand.NewPCG(m.cfg.Seed, stream))
}

func (m *DataModule) fingerprint() fingerprint {
	return fingerprint{
		Tokenizer:       m.cfg.Tokenizer,
		Preprocessing:   m.cfg.Preprocessing,
		CustomTokenFunc: m.tokenFunc != nil,
		VocabSize:       m.cfg.VocabSize,
		MinFreq:         m.cfg.MinFreq,
		Pretrained:      m.cfg.Pretrained,
		Seed:            strconv.FormatUint(m.cfg.Seed, 10),
		CorpusURL:       m.cfg.CorpusURL,
	}
}

// Prepare builds and writes the vocabulary files unless both already exist.
func (m *DataModule) Prepare(ctx context.Context) error {
	prepared, err := m.prepared()
	if err != nil {
		return err
	}
	if prepared && !m.stale() {
		return nil
	}

	if m.cfg.Pretrained != "" {
		if _, err := embedding.Lookup(m.cfg.Pretrained); err != nil {
			return err
		}
	}

	if err := corpus.Ensure(ctx, m.fetcher, m.cfg.DataDir, m.cfg.CorpusURL, m.logger); err != nil {
		return err
	}
	raws, err := corpus.Load(m.fs, m.cfg.DataDir, corpus.Train)
	if err != nil {
		return fmt.Errorf("failed to load training corpus: %w", err)
	}

	m.logger.Info().Int("examples", len(raws)).Int("vocab_size", m.cfg.VocabSize).Msg("Building vocabulary")

	ds, err := dataset.Tokenize(ctx, raws, m.text, m.cfg.NumWorkers)
	if err != nil {
		return err
	}
	tokens, labels := ds.Counters()

	text := vocab.Build(tokens, vocab.TextOptions(m.cfg.VocabSize, m.cfg.MinFreq))
	label := vocab.Build(labels, vocab.LabelOptions())

	st := stats{Examples: ds.Len(), TextSize: text.Len(), LabelSize: label.Len()}
	if m.cfg.Pretrained != "" {
		inVocab := func(tok string) bool {
			_, ok := text.Index(tok)
			return ok
		}
		vecs, err := embedding.Load(ctx, m.fetcher, m.cfg.VectorsDir(), m.cfg.Pretrained, m.logger, embedding.Only(inVocab))
		if err != nil {
			return err
		}
		st.VectorsFound = text.SetVectors(vecs, vocab.NormalInit(m.rng(streamVectors)))
		st.Dim = text.Dim()
		m.logger.Debug().Int("found", st.VectorsFound).Int("total", text.Len()).Msg("Attached pretrained vectors")
	}

	if err := vocab.Save(m.fs, m.path(TextFile), text); err != nil {
		return err
	}
	if err := vocab.Save(m.fs, m.path(LabelFile), label); err != nil {
		return err
	}
	return writeManifest(m.fs, m.path(ManifestFile), manifest{
		Version: manifestVersion,
		Config:  m.fingerprint(),
		Stats:   st,
	})
}

func (m *DataModule) prepared() (bool, error) {
	for _, name := range []string{TextFile, LabelFile} {
		ok, err := afero.Exists(m.fs, m.path(name))
		if err != nil {
			return false, fmt.Errorf("failed to stat %s: %w", name, err)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// stale reports whether existing vocabulary files should be rebuilt. A
// mismatch is only acted on with rebuild_stale; otherwise the files on disk
// win.
func (m *DataModule) stale() bool {
	mf, err := readManifest(m.fs, m.path(ManifestFile))
	if errors.Is(err, fs.ErrNotExist) {
		m.logger.Debug().Str("dir", m.cfg.DataDir).Msg("No vocabulary manifest, using existing files")
		return false
	}

	current := m.fingerprint()
	if err == nil && mf.Config.equal(current) {
		return false
	}

	event := m.logger.Warn()
	if err != nil {
		event = event.Err(err)
	} else {
		event = event.Interface("built_with", mf.Config).Interface("current", current)
	}
	if !m.cfg.RebuildStale {
		event.Msg("Vocabulary files are stale, keeping them (set rebuild_stale to rebuild)")
		return false
	}
	event.Msg("Vocabulary files are stale, rebuilding")
	return true
}

// Vocabularies loads the persisted text and label vocabularies.
func (m *DataModule) Vocabularies() (*vocab.Vocab, *vocab.Vocab, error) {
	prepared, err := m.prepared()
	if err != nil {
		return nil, nil, err
	}
	if !prepared {
		return nil, nil, fmt.Errorf("%w: %s and %s not found in %s", ErrNotPrepared, TextFile, LabelFile, m.cfg.DataDir)
	}

	text, err := vocab.Load(m.fs, m.path(TextFile))
	if err != nil {
		return nil, nil, err
	}
	label, err := vocab.Load(m.fs, m.path(LabelFile))
	if err != nil {
		return nil, nil, err
	}
	return text, label, nil
}

// Setup loads the vocabularies, tokenizes both corpus splits and carves the
// validation split out of train. stage is accepted for API compatibility
// and not used.
func (m *DataModule) Setup(ctx context.Context, stage string) error {
	m.logger.Debug().Str("stage", stage).Msg("Setting up data")

	text, label, err := m.Vocabularies()
	if err != nil {
		return err
	}
	pad, ok := text.Index(vocab.PadToken)
	if !ok {
		return fmt.Errorf("%w: %s has no %s entry", vocab.ErrCorrupt, TextFile, vocab.PadToken)
	}
	if text.UnkIndex() < 0 {
		return fmt.Errorf("%w: %s has no unknown-token index", vocab.ErrCorrupt, TextFile)
	}

	if err := corpus.Ensure(ctx, m.fetcher, m.cfg.DataDir, m.cfg.CorpusURL, m.logger); err != nil {
		return err
	}

	textField := *m.text
	textField.Vocab = text
	labelField := &dataset.LabelField{Vocab: label}

	splits := make(map[string]*dataset.Dataset, 2)
	for _, split := range []string{corpus.Train, corpus.Test} {
		raws, err := corpus.Load(m.fs, m.cfg.DataDir, split)
		if err != nil {
			return fmt.Errorf("failed to load %s corpus: %w", split, err)
		}
		ds, err := dataset.Build(ctx, raws, &textField, labelField, m.cfg.NumWorkers)
		if err != nil {
			return fmt.Errorf("failed to build %s split: %w", split, err)
		}
		splits[split] = ds
	}

	train, val, err := splits[corpus.Train].Split(m.cfg.SplitRatio, m.rng(streamSplit))
	if err != nil {
		return err
	}

	m.text.Vocab, m.label.Vocab = text, label
	m.train, m.val, m.test = train, val, splits[corpus.Test]
	m.padIndex = pad

	m.logger.Info().
		Int("train", m.train.Len()).
		Int("val", m.val.Len()).
		Int("test", m.test.Len()).
		Msg("Data ready")
	return nil
}

// Sizes returns the number of examples per split; all zero before Setup.
func (m *DataModule) Sizes() (train, val, test int) {
	if m.train == nil {
		return 0, 0, 0
	}
	return m.train.Len(), m.val.Len(), m.test.Len()
}

func (m *DataModule) loader(ds *dataset.Dataset, shuffle bool) (*iterator.BucketIterator, error) {
	if ds == nil {
		return nil, ErrNotSetUp
	}
	opts := iterator.Options{
		Shuffle:         shuffle,
		PadIndex:        m.padIndex,
		SortWithinBatch: m.cfg.SortWithinBatch,
	}
	if shuffle {
		opts.Rand = m.rng(streamShuffle)
	}
	return iterator.New(ds, m.cfg.BatchSize, opts)
}

// TrainDataloader iterates the training split in a new order every epoch.
func (m *DataModule) TrainDataloader() (*iterator.BucketIterator, error) {
	return m.loader(m.train, true)
}

func (m *DataModule) ValDataloader() (*iterator.BucketIterator, error) {
	return m.loader(m.val, false)
}

func (m *DataModule) TestDataloader() (*iterator.BucketIterator, error) {
	return m.loader(m.test, false)
}
