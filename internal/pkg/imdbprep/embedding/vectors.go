// Package embedding loads pretrained word vectors by identifier.
package embedding

import (
	"bufio"
	"context"
	"io"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"gonum.org/v1/gonum/mat"

	"imdbprep/internal/pkg/imdbprep/fetch"
)

const maxLineBytes = 16 << 20

// Vectors is a token -> vector table.
type Vectors struct {
	stoi   map[string]int
	matrix *mat.Dense
	dim    int
}

func (v *Vectors) Dim() int { return v.dim }

func (v *Vectors) Len() int { return len(v.stoi) }

// Vector returns a view of the row for tok; callers must not modify it.
func (v *Vectors) Vector(tok string) ([]float64, bool) {
	i, ok := v.stoi[strings.TrimSpace(tok)]
	if !ok {
		return nil, false
	}
	return v.matrix.RawRowView(i), true
}

// Option configures Parse and Load.
type Option func(*parseConfig)

type parseConfig struct {
	keep func(string) bool
}

// Only restricts the table to tokens for which keep reports true. Values of
// other rows are not parsed or held in memory.
func Only(keep func(string) bool) Option {
	return func(c *parseConfig) {
		c.keep = keep
	}
}

// Load resolves name in the catalog, downloads and unpacks it into cacheDir
// if needed, and parses the vector file.
func Load(ctx context.Context, f *fetch.Fetcher, cacheDir, name string, logger zerolog.Logger, opts ...Option) (*Vectors, error) {
	src, err := Lookup(name)
	if err != nil {
		return nil, err
	}

	fs := f.Fs()
	file := src.Member
	if file == "" {
		file = path.Base(src.URL)
	}
	vecPath := filepath.Join(cacheDir, file)

	ok, err := afero.Exists(fs, vecPath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to stat %s", vecPath)
	}
	if !ok {
		if src.Member != "" {
			archive := filepath.Join(cacheDir, path.Base(src.URL))
			if err := f.Ensure(ctx, src.URL, archive); err != nil {
				return nil, errors.Wrapf(err, "failed to fetch vectors %s", name)
			}
			logger.Info().Str("archive", archive).Str("member", src.Member).Msg("Extracting vectors")
			if err := fetch.ExtractZipMember(fs, archive, src.Member, vecPath); err != nil {
				return nil, errors.Wrapf(err, "failed to extract vectors %s", name)
			}
		} else if err := f.Ensure(ctx, src.URL, vecPath); err != nil {
			return nil, errors.Wrapf(err, "failed to fetch vectors %s", name)
		}
	}

	r, err := fs.Open(vecPath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", vecPath)
	}
	defer r.Close()

	vecs, err := Parse(r, src.Dim, opts...)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse %s", vecPath)
	}
	logger.Info().Str("vectors", name).Int("tokens", vecs.Len()).Int("dim", vecs.Dim()).Msg("Loaded pretrained vectors")
	return vecs, nil
}

// Parse reads whitespace-separated "token v1 ... vd" lines. The token itself
// may contain spaces; the last dim fields are the vector. When dim is 0 it is
// taken from the first line. A leading "count dim" header line, as written by
// fastText, is skipped.
func Parse(r io.Reader, dim int, opts ...Option) (*Vectors, error) {
	var cfg parseConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var (
		tokens []string
		data   []float64
		lineNo int
		rows   int
	)
	for sc.Scan() {
		lineNo++
		line := strings.TrimRight(sc.Text(), " \r")
		if line == "" {
			continue
		}
		fields := strings.Split(line, " ")

		if lineNo == 1 && len(fields) == 2 && dim != 1 {
			if _, err := strconv.Atoi(fields[0]); err == nil {
				continue
			}
		}
		if dim == 0 {
			dim = len(fields) - 1
		}
		if len(fields) < dim+1 || dim <= 0 {
			return nil, errors.Errorf("line %d: want a token and %d values, got %d fields", lineNo, dim, len(fields))
		}

		rows++
		cut := len(fields) - dim
		tok := strings.Join(fields[:cut], " ")
		if cfg.keep != nil && !cfg.keep(tok) {
			continue
		}
		for _, f := range fields[cut:] {
			x, err := strconv.ParseFloat(f, 32)
			if err != nil {
				return nil, errors.Wrapf(err, "line %d", lineNo)
			}
			data = append(data, x)
		}
		tokens = append(tokens, tok)
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to read vectors")
	}
	if rows == 0 {
		return nil, errors.New("no vectors found")
	}

	v := &Vectors{stoi: make(map[string]int, len(tokens)), dim: dim}
	if len(tokens) > 0 {
		v.matrix = mat.NewDense(len(tokens), dim, data)
	}
	// later duplicates win
	for i, tok := range tokens {
		v.stoi[tok] = i
	}
	return v, nil
}
