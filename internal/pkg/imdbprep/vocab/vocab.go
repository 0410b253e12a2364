// Package vocab maps tokens to dense indices and carries the optional
// embedding table aligned with those indices.
package vocab

import (
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/mat"
)

const (
	UnkToken = "<unk>"
	PadToken = "<pad>"
)

// Counter accumulates token frequencies.
type Counter map[string]int

func (c Counter) Update(tokens []string) {
	for _, tok := range tokens {
		c[tok]++
	}
}

// Merge adds the counts of other into c.
func (c Counter) Merge(other Counter) {
	for tok, n := range other {
		c[tok] += n
	}
}

type BuildOptions struct {
	// MaxSize caps the number of non-special entries; 0 means no cap.
	MaxSize int
	// MinFreq drops tokens seen fewer times. Values below 1 are treated as 1.
	MinFreq int
	// Specials are placed first, in order, regardless of frequency.
	Specials []string
	// UnkToken names the special returned for unknown tokens. Empty means
	// lookups of unknown tokens return -1.
	UnkToken string
}

// TextOptions are the options for a text vocabulary: <unk> and <pad> first.
func TextOptions(maxSize, minFreq int) BuildOptions {
	return BuildOptions{
		MaxSize:  maxSize,
		MinFreq:  minFreq,
		Specials: []string{UnkToken, PadToken},
		UnkToken: UnkToken,
	}
}

// LabelOptions are the options for a label vocabulary: no specials, no unknown.
func LabelOptions() BuildOptions {
	return BuildOptions{MinFreq: 1}
}

type Vocab struct {
	itos    []string
	stoi    map[string]int
	freqs   []int
	unk     int
	vectors *mat.Dense
}

// Entry is a token with its training-corpus frequency.
type Entry struct {
	Token string
	Index int
	Freq  int
}

// Build constructs a vocabulary from counter. Tokens are ordered by
// descending frequency with ties broken alphabetically.
func Build(counter Counter, opts BuildOptions) *Vocab {
	minFreq := opts.MinFreq
	if minFreq < 1 {
		minFreq = 1
	}

	v := &Vocab{stoi: make(map[string]int), unk: -1}
	for _, s := range opts.Specials {
		if _, dup := v.stoi[s]; dup {
			continue
		}
		v.add(s, 0)
	}

	entries := make([]Entry, 0, len(counter))
	for tok, n := range counter {
		if _, special := v.stoi[tok]; special {
			continue
		}
		entries = append(entries, Entry{Token: tok, Freq: n})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Freq != entries[j].Freq {
			return entries[i].Freq > entries[j].Freq
		}
		return entries[i].Token < entries[j].Token
	})

	limit := -1
	if opts.MaxSize > 0 {
		limit = opts.MaxSize + len(v.itos)
	}
	for _, e := range entries {
		if e.Freq < minFreq || len(v.itos) == limit {
			break
		}
		v.add(e.Token, e.Freq)
	}

	if opts.UnkToken != "" {
		if i, ok := v.stoi[opts.UnkToken]; ok {
			v.unk = i
		}
	}
	return v
}

func (v *Vocab) add(tok string, freq int) {
	v.stoi[tok] = len(v.itos)
	v.itos = append(v.itos, tok)
	v.freqs = append(v.freqs, freq)
}

func (v *Vocab) Len() int { return len(v.itos) }

// UnkIndex returns the index used for unknown tokens, or -1.
func (v *Vocab) UnkIndex() int { return v.unk }

// Index reports the index of tok and whether it is in the vocabulary.
func (v *Vocab) Index(tok string) (int, bool) {
	i, ok := v.stoi[tok]
	return i, ok
}

// Lookup returns the index of tok, falling back to UnkIndex.
func (v *Vocab) Lookup(tok string) int {
	if i, ok := v.stoi[tok]; ok {
		return i
	}
	return v.unk
}

func (v *Vocab) Token(i int) string {
	if i < 0 || i >= len(v.itos) {
		return ""
	}
	return v.itos[i]
}

func (v *Vocab) Freq(tok string) int {
	if i, ok := v.stoi[tok]; ok {
		return v.freqs[i]
	}
	return 0
}

func (v *Vocab) Tokens() []string {
	return append([]string(nil), v.itos...)
}

func (v *Vocab) Numericalize(tokens []string) []int {
	ids := make([]int, len(tokens))
	for i, tok := range tokens {
		ids[i] = v.Lookup(tok)
	}
	return ids
}

// MostCommon returns up to n counted entries in vocabulary order. Specials
// are skipped.
func (v *Vocab) MostCommon(n int) []Entry {
	var out []Entry
	for i, tok := range v.itos {
		if v.freqs[i] == 0 {
			continue
		}
		if n > 0 && len(out) == n {
			break
		}
		out = append(out, Entry{Token: tok, Index: i, Freq: v.freqs[i]})
	}
	return out
}

// VectorSource supplies pretrained vectors by token.
type VectorSource interface {
	Dim() int
	Vector(token string) ([]float64, bool)
}

// InitFunc fills a row for a token with no pretrained vector.
type InitFunc func(row []float64)

// NormalInit samples each component from N(0, 1).
func NormalInit(rng *rand.Rand) InitFunc {
	return func(row []float64) {
		for i := range row {
			row[i] = rng.NormFloat64()
		}
	}
}

// SetVectors builds the embedding table: row i holds the pretrained vector
// for token i when src has one, otherwise whatever init writes. Values are
// kept at float32 precision, matching the on-disk format.
func (v *Vocab) SetVectors(src VectorSource, init InitFunc) int {
	dim := src.Dim()
	if dim <= 0 || len(v.itos) == 0 {
		v.vectors = nil
		return 0
	}

	data := make([]float64, len(v.itos)*dim)
	found := 0
	for i, tok := range v.itos {
		row := data[i*dim : (i+1)*dim]
		if vec, ok := src.Vector(tok); ok && len(vec) == dim {
			copy(row, vec)
			found++
		} else if init != nil {
			init(row)
		}
		for j := range row {
			row[j] = float64(float32(row[j]))
		}
	}
	v.vectors = mat.NewDense(len(v.itos), dim, data)
	return found
}

// Vectors returns the embedding table (rows align with indices), or nil.
func (v *Vocab) Vectors() *mat.Dense {
	return v.vectors
}

// Dim returns the embedding width, or 0 without vectors.
func (v *Vocab) Dim() int {
	if v.vectors == nil {
		return 0
	}
	_, c := v.vectors.Dims()
	return c
}
