package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const DefaultCorpusURL = "http://ai.stanford.edu/~amaas/data/sentiment/aclImdb_v1.tar.gz"

type Config struct {
	DataDir         string   `mapstructure:"data_dir"`
	BatchSize       int      `mapstructure:"batch_size"`
	NumWorkers      int      `mapstructure:"num_workers"`
	VocabSize       int      `mapstructure:"vocab_size"`
	MinFreq         int      `mapstructure:"min_freq"`
	Pretrained      string   `mapstructure:"pretrained"`
	VectorsCache    string   `mapstructure:"vectors_cache"`
	Tokenizer       string   `mapstructure:"tokenizer"`
	Preprocessing   []string `mapstructure:"preprocessing"`
	Seed            uint64   `mapstructure:"seed"`
	SplitRatio      float64  `mapstructure:"split_ratio"`
	SortWithinBatch bool     `mapstructure:"sort_within_batch"`
	RebuildStale    bool     `mapstructure:"rebuild_stale"`
	CorpusURL       string   `mapstructure:"corpus_url"`
	S3Region        string   `mapstructure:"s3_region"`
	LogLevel        string   `mapstructure:"log_level"`
	LogFile         string   `mapstructure:"log_file"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		DataDir:    "./.data/",
		BatchSize:  64,
		NumWorkers: 4,
		VocabSize:  25_000,
		MinFreq:    1,
		Pretrained: "glove.6B.100d",
		Tokenizer:  "spacy",
		SplitRatio: 0.8,
		CorpusURL:  DefaultCorpusURL,
		S3Region:   "us-east-1",
		LogLevel:   "info",
	}
}

// flagKeys maps flag names to config keys.
var flagKeys = map[string]string{
	"data-dir":          "data_dir",
	"batch-size":        "batch_size",
	"num-workers":       "num_workers",
	"vocab-size":        "vocab_size",
	"min-freq":          "min_freq",
	"pretrained":        "pretrained",
	"vectors-cache":     "vectors_cache",
	"tokenizer":         "tokenizer",
	"preprocessing":     "preprocessing",
	"seed":              "seed",
	"split-ratio":       "split_ratio",
	"sort-within-batch": "sort_within_batch",
	"rebuild-stale":     "rebuild_stale",
	"corpus-url":        "corpus_url",
	"s3-region":         "s3_region",
	"log-level":         "log_level",
	"log-file":          "log_file",
}

func RegisterFlags(flagSet *pflag.FlagSet) {
	d := Default()
	flagSet.StringP("config", "c", "", "Path to config file")
	flagSet.StringP("data-dir", "d", d.DataDir, "Directory for corpus, vectors and vocabulary files")
	flagSet.IntP("batch-size", "b", d.BatchSize, "Examples per batch")
	flagSet.IntP("num-workers", "j", d.NumWorkers, "Parallel tokenization workers")
	flagSet.Int("vocab-size", d.VocabSize, "Maximum number of non-special vocabulary entries")
	flagSet.Int("min-freq", d.MinFreq, "Minimum token frequency to enter the vocabulary")
	flagSet.StringP("pretrained", "p", d.Pretrained, "Pretrained embedding identifier (empty disables vectors)")
	flagSet.String("vectors-cache", "", "Directory for downloaded vectors (default <data-dir>/.vector_cache)")
	flagSet.StringP("tokenizer", "t", d.Tokenizer, "Tokenizer name")
	flagSet.StringSlice("preprocessing", nil, "Token transforms applied in order (lower, fold, nfkc, trim_punct)")
	flagSet.Uint64("seed", 0, "Random seed for vector init and splitting (0 = unseeded)")
	flagSet.Float64("split-ratio", d.SplitRatio, "Fraction of the training split kept for training")
	flagSet.Bool("sort-within-batch", false, "Sort each batch by descending length")
	flagSet.Bool("rebuild-stale", false, "Rebuild the vocabulary when its configuration fingerprint changed")
	flagSet.String("corpus-url", d.CorpusURL, "Corpus archive location (http, https or s3)")
	flagSet.String("s3-region", d.S3Region, "AWS region for s3:// sources")
	flagSet.StringP("log-level", "l", d.LogLevel, "Log level (debug, info, warn, error)")
	flagSet.String("log-file", "", "Log file path")
}

// Load resolves configuration from defaults, an optional TOML config file,
// IMDBPREP_* environment variables and any flags changed on flagSet.
func Load(flagSet *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	d := Default()
	v.SetDefault("data_dir", d.DataDir)
	v.SetDefault("batch_size", d.BatchSize)
	v.SetDefault("num_workers", d.NumWorkers)
	v.SetDefault("vocab_size", d.VocabSize)
	v.SetDefault("min_freq", d.MinFreq)
	v.SetDefault("pretrained", d.Pretrained)
	v.SetDefault("vectors_cache", "")
	v.SetDefault("tokenizer", d.Tokenizer)
	v.SetDefault("preprocessing", []string{})
	v.SetDefault("seed", 0)
	v.SetDefault("split_ratio", d.SplitRatio)
	v.SetDefault("sort_within_batch", false)
	v.SetDefault("rebuild_stale", false)
	v.SetDefault("corpus_url", d.CorpusURL)
	v.SetDefault("s3_region", d.S3Region)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_file", "")

	var configFile string
	if flagSet != nil {
		for name, key := range flagKeys {
			f := flagSet.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
			}
		}
		configFile, _ = flagSet.GetString("config")
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("imdbprep.cfg")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
		v.AddConfigPath("configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "imdbprep"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	v.SetEnvPrefix("IMDBPREP")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive, got %d", c.BatchSize)
	}
	if c.NumWorkers < 0 {
		return fmt.Errorf("num_workers must not be negative, got %d", c.NumWorkers)
	}
	if c.VocabSize < 0 {
		return fmt.Errorf("vocab_size must not be negative, got %d", c.VocabSize)
	}
	if c.MinFreq < 1 {
		return fmt.Errorf("min_freq must be at least 1, got %d", c.MinFreq)
	}
	if c.SplitRatio <= 0 || c.SplitRatio >= 1 {
		return fmt.Errorf("split_ratio must be between 0 and 1, got %g", c.SplitRatio)
	}
	if c.Tokenizer == "" {
		return fmt.Errorf("tokenizer is required")
	}
	return nil
}

// VectorsDir returns where pretrained vectors are cached.
func (c *Config) VectorsDir() string {
	if c.VectorsCache != "" {
		return c.VectorsCache
	}
	return filepath.Join(c.DataDir, ".vector_cache")
}
