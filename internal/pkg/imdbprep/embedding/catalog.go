package embedding

import (
	"fmt"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// ErrUnknown is returned for identifiers missing from the catalog.
var ErrUnknown = errors.New("embedding: unknown pretrained vectors")

// Source describes where a set of pretrained vectors lives. When Member is
// set, URL points at a zip archive and Member names the vector file inside it;
// otherwise URL is the vector file itself.
type Source struct {
	URL    string
	Member string
	Dim    int
}

const (
	gloveBase    = "http://nlp.stanford.edu/data/"
	fasttextBase = "https://dl.fbaipublicfiles.com/fasttext/vectors-wiki/"
)

var (
	catalogMu sync.RWMutex
	catalog   = map[string]Source{}
)

func init() {
	for _, d := range []int{50, 100, 200, 300} {
		Register(fmt.Sprintf("glove.6B.%dd", d), Source{
			URL:    gloveBase + "glove.6B.zip",
			Member: fmt.Sprintf("glove.6B.%dd.txt", d),
			Dim:    d,
		})
	}
	for _, d := range []int{25, 50, 100, 200} {
		Register(fmt.Sprintf("glove.twitter.27B.%dd", d), Source{
			URL:    gloveBase + "glove.twitter.27B.zip",
			Member: fmt.Sprintf("glove.twitter.27B.%dd.txt", d),
			Dim:    d,
		})
	}
	Register("glove.42B.300d", Source{URL: gloveBase + "glove.42B.300d.zip", Member: "glove.42B.300d.txt", Dim: 300})
	Register("glove.840B.300d", Source{URL: gloveBase + "glove.840B.300d.zip", Member: "glove.840B.300d.txt", Dim: 300})
	Register("fasttext.en.300d", Source{URL: fasttextBase + "wiki.en.vec", Dim: 300})
	Register("fasttext.simple.300d", Source{URL: fasttextBase + "wiki.simple.vec", Dim: 300})
}

// Register adds or replaces a catalog entry, e.g. to point an identifier at
// a mirror.
func Register(name string, src Source) {
	catalogMu.Lock()
	defer catalogMu.Unlock()
	catalog[name] = src
}

func Lookup(name string) (Source, error) {
	catalogMu.RLock()
	src, ok := catalog[name]
	catalogMu.RUnlock()
	if !ok {
		return Source{}, errors.Wrapf(ErrUnknown, "%q (known: %v)", name, Names())
	}
	return src, nil
}

func Names() []string {
	catalogMu.RLock()
	defer catalogMu.RUnlock()
	names := make([]string, 0, len(catalog))
	for name := range catalog {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
