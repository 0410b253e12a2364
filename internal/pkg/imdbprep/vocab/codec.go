package vocab

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"path/filepath"

	"github.com/spf13/afero"
	"google.golang.org/protobuf/encoding/protowire"
	"gonum.org/v1/gonum/mat"
)

// ErrCorrupt indicates a vocabulary file that cannot be decoded.
var ErrCorrupt = errors.New("vocab: corrupt vocabulary file")

const formatVersion = 1

// Field numbers of the wire format.
const (
	fieldToken   protowire.Number = 1
	fieldUnk     protowire.Number = 2
	fieldDim     protowire.Number = 3
	fieldVectors protowire.Number = 4
	fieldFreqs   protowire.Number = 5
	fieldVersion protowire.Number = 6
)

func (v *Vocab) MarshalBinary() ([]byte, error) {
	var b []byte
	b = protowire.AppendTag(b, fieldVersion, protowire.VarintType)
	b = protowire.AppendVarint(b, formatVersion)

	for _, tok := range v.itos {
		b = protowire.AppendTag(b, fieldToken, protowire.BytesType)
		b = protowire.AppendString(b, tok)
	}

	b = protowire.AppendTag(b, fieldUnk, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(v.unk+1))

	var freqs []byte
	for _, f := range v.freqs {
		freqs = protowire.AppendVarint(freqs, uint64(f))
	}
	b = protowire.AppendTag(b, fieldFreqs, protowire.BytesType)
	b = protowire.AppendBytes(b, freqs)

	if v.vectors != nil {
		rows, dim := v.vectors.Dims()
		b = protowire.AppendTag(b, fieldDim, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(dim))

		packed := make([]byte, 0, rows*dim*4)
		for i := 0; i < rows; i++ {
			for _, x := range v.vectors.RawRowView(i) {
				packed = protowire.AppendFixed32(packed, math.Float32bits(float32(x)))
			}
		}
		b = protowire.AppendTag(b, fieldVectors, protowire.BytesType)
		b = protowire.AppendBytes(b, packed)
	}

	return b, nil
}

func (v *Vocab) UnmarshalBinary(data []byte) error {
	var (
		itos    []string
		freqs   []int
		unk     = -1
		dim     int
		vectors []float64
		version uint64
	)

	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrCorrupt, protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case num == fieldVersion && typ == protowire.VarintType:
			version, n = protowire.ConsumeVarint(data)
		case num == fieldToken && typ == protowire.BytesType:
			var s string
			s, n = protowire.ConsumeString(data)
			itos = append(itos, s)
		case num == fieldUnk && typ == protowire.VarintType:
			var u uint64
			u, n = protowire.ConsumeVarint(data)
			unk = int(u) - 1
		case num == fieldDim && typ == protowire.VarintType:
			var d uint64
			d, n = protowire.ConsumeVarint(data)
			dim = int(d)
		case num == fieldFreqs && typ == protowire.BytesType:
			var packed []byte
			packed, n = protowire.ConsumeBytes(data)
			for len(packed) > 0 {
				f, m := protowire.ConsumeVarint(packed)
				if m < 0 {
					return fmt.Errorf("%w: frequencies: %v", ErrCorrupt, protowire.ParseError(m))
				}
				freqs = append(freqs, int(f))
				packed = packed[m:]
			}
		case num == fieldVectors && typ == protowire.BytesType:
			var packed []byte
			packed, n = protowire.ConsumeBytes(data)
			if len(packed)%4 != 0 {
				return fmt.Errorf("%w: vector payload of %d bytes", ErrCorrupt, len(packed))
			}
			vectors = make([]float64, 0, len(packed)/4)
			for len(packed) > 0 {
				bits, m := protowire.ConsumeFixed32(packed)
				vectors = append(vectors, float64(math.Float32frombits(bits)))
				packed = packed[m:]
			}
		default:
			n = protowire.ConsumeFieldValue(num, typ, data)
		}
		if n < 0 {
			return fmt.Errorf("%w: field %d: %v", ErrCorrupt, num, protowire.ParseError(n))
		}
		data = data[n:]
	}

	if version != formatVersion {
		return fmt.Errorf("%w: unsupported format version %d", ErrCorrupt, version)
	}
	if len(freqs) != len(itos) {
		return fmt.Errorf("%w: %d tokens but %d frequencies", ErrCorrupt, len(itos), len(freqs))
	}
	if unk < -1 || unk >= len(itos) {
		return fmt.Errorf("%w: unknown index %d out of range", ErrCorrupt, unk)
	}

	out := &Vocab{itos: itos, freqs: freqs, unk: unk, stoi: make(map[string]int, len(itos))}
	for i, tok := range itos {
		if _, dup := out.stoi[tok]; dup {
			return fmt.Errorf("%w: duplicate token %q", ErrCorrupt, tok)
		}
		out.stoi[tok] = i
	}

	if vectors != nil {
		if dim <= 0 || len(vectors) != len(itos)*dim {
			return fmt.Errorf("%w: %d vector values for %d tokens of dim %d", ErrCorrupt, len(vectors), len(itos), dim)
		}
		if len(itos) > 0 {
			out.vectors = mat.NewDense(len(itos), dim, vectors)
		}
	}

	*v = *out
	return nil
}

// Save writes v to path on fs.
func Save(fs afero.Fs, path string, v *Vocab) error {
	data, err := v.MarshalBinary()
	if err != nil {
		return fmt.Errorf("failed to encode vocabulary: %w", err)
	}
	if err := fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(path), err)
	}
	if err := afero.WriteFile(fs, path, data, 0644); err != nil {
		return fmt.Errorf("failed to write vocabulary %s: %w", path, err)
	}
	return nil
}

// Load reads a vocabulary written by Save.
func Load(fs afero.Fs, path string) (*Vocab, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read vocabulary %s: %w", path, err)
	}
	v := &Vocab{}
	if err := v.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("failed to decode vocabulary %s: %w", path, err)
	}
	return v, nil
}

// WriteText writes one "token index" line per entry.
func (v *Vocab) WriteText(w io.Writer) error {
	bw := bufio.NewWriter(w)
	for i, tok := range v.itos {
		if _, err := fmt.Fprintf(bw, "%s %d\n", tok, i); err != nil {
			return fmt.Errorf("failed to write vocabulary: %w", err)
		}
	}
	return bw.Flush()
}
