// Package dataset turns raw corpus examples into numericalized examples.
package dataset

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"imdbprep/internal/pkg/imdbprep/corpus"
	"imdbprep/internal/pkg/imdbprep/preprocess"
	"imdbprep/internal/pkg/imdbprep/tokenizer"
	"imdbprep/internal/pkg/imdbprep/vocab"
)

// TextField cleans, tokenizes and numericalizes review text. Cleaner,
// Transform and Vocab are optional.
type TextField struct {
	Tokenizer tokenizer.Tokenizer
	Cleaner   *preprocess.Cleaner
	Transform preprocess.TokenFunc
	Vocab     *vocab.Vocab
}

func (f *TextField) Tokens(text string) []string {
	if f.Cleaner != nil {
		text = f.Cleaner.Clean(text)
	}
	return preprocess.Apply(f.Transform, f.Tokenizer.Tokenize(text))
}

type LabelField struct {
	Vocab *vocab.Vocab
}

type Example struct {
	Tokens []string
	Label  string
	IDs    []int
	Target int
}

type Dataset struct {
	Examples []Example
}

func (d *Dataset) Len() int { return len(d.Examples) }

// Tokenize runs text over every raw example using up to workers goroutines.
// The result keeps the order of raws.
func Tokenize(ctx context.Context, raws []corpus.Example, text *TextField, workers int) (*Dataset, error) {
	if text == nil || text.Tokenizer == nil {
		return nil, fmt.Errorf("text field has no tokenizer")
	}
	if workers < 1 {
		workers = 1
	}

	out := make([]Example, len(raws))
	if len(raws) == 0 {
		return &Dataset{Examples: out}, nil
	}

	size := (len(raws) + workers*4 - 1) / (workers * 4)
	chunks := lo.Chunk(lo.Range(len(raws)), size)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, chunk := range chunks {
		g.Go(func() error {
			for _, i := range chunk {
				if err := ctx.Err(); err != nil {
					return err
				}
				out[i] = Example{Tokens: text.Tokens(raws[i].Text), Label: raws[i].Label}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to tokenize: %w", err)
	}
	return &Dataset{Examples: out}, nil
}

// Counters returns token and label frequencies over d.
func (d *Dataset) Counters() (tokens, labels vocab.Counter) {
	tokens, labels = vocab.Counter{}, vocab.Counter{}
	for _, ex := range d.Examples {
		tokens.Update(ex.Tokens)
		labels[ex.Label]++
	}
	return tokens, labels
}

// Numericalize fills IDs and Target from the field vocabularies.
func (d *Dataset) Numericalize(text *TextField, label *LabelField) error {
	if text.Vocab == nil || label.Vocab == nil {
		return fmt.Errorf("fields have no vocabulary")
	}
	for i := range d.Examples {
		ex := &d.Examples[i]
		ex.IDs = text.Vocab.Numericalize(ex.Tokens)
		ex.Target = label.Vocab.Lookup(ex.Label)
		if ex.Target < 0 {
			return fmt.Errorf("example %d: label %q not in label vocabulary", i, ex.Label)
		}
	}
	return nil
}

// Build tokenizes raws and numericalizes them with the field vocabularies.
func Build(ctx context.Context, raws []corpus.Example, text *TextField, label *LabelField, workers int) (*Dataset, error) {
	d, err := Tokenize(ctx, raws, text, workers)
	if err != nil {
		return nil, err
	}
	if err := d.Numericalize(text, label); err != nil {
		return nil, err
	}
	return d, nil
}

// Split permutes d with rng and returns round(ratio*n) examples as the first
// part and the remainder as the second.
func (d *Dataset) Split(ratio float64, rng *rand.Rand) (*Dataset, *Dataset, error) {
	if ratio <= 0 || ratio >= 1 {
		return nil, nil, fmt.Errorf("split ratio %v not in (0, 1)", ratio)
	}
	n := len(d.Examples)
	cut := int(math.Round(ratio * float64(n)))

	perm := rng.Perm(n)
	shuffled := make([]Example, n)
	for i, j := range perm {
		shuffled[i] = d.Examples[j]
	}
	return &Dataset{Examples: shuffled[:cut:cut]}, &Dataset{Examples: shuffled[cut:]}, nil
}
