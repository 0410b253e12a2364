package preprocess

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// TokenFunc rewrites a single token. Returning "" drops the token.
type TokenFunc func(string) string

var transforms = map[string]func() TokenFunc{
	// Casers keep state, so each call gets its own; TokenFuncs run on
	// several goroutines at once.
	"lower": func() TokenFunc {
		return func(tok string) string { return cases.Lower(language.English).String(tok) }
	},
	"fold": func() TokenFunc {
		return func(tok string) string { return cases.Fold().String(tok) }
	},
	"nfkc": func() TokenFunc {
		return norm.NFKC.String
	},
	"trim_punct": func() TokenFunc {
		return func(tok string) string {
			trimmed := strings.TrimFunc(tok, unicode.IsPunct)
			if trimmed == "" {
				return tok
			}
			return trimmed
		}
	},
}

// Names lists the registered token transforms.
func Names() []string {
	names := make([]string, 0, len(transforms))
	for name := range transforms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Chain builds a TokenFunc applying the named transforms in order. An empty
// list yields nil.
func Chain(names []string) (TokenFunc, error) {
	if len(names) == 0 {
		return nil, nil
	}
	fns := make([]TokenFunc, 0, len(names))
	for _, name := range names {
		ctor, ok := transforms[name]
		if !ok {
			return nil, fmt.Errorf("preprocess: unknown transform %q (available: %v)", name, Names())
		}
		fns = append(fns, ctor())
	}
	return Compose(fns...), nil
}

// Compose applies fns left to right, skipping nil entries.
func Compose(fns ...TokenFunc) TokenFunc {
	var live []TokenFunc
	for _, fn := range fns {
		if fn != nil {
			live = append(live, fn)
		}
	}
	if len(live) == 0 {
		return nil
	}
	return func(tok string) string {
		for _, fn := range live {
			tok = fn(tok)
			if tok == "" {
				return ""
			}
		}
		return tok
	}
}

// Apply runs fn over tokens in place, dropping tokens mapped to "".
func Apply(fn TokenFunc, tokens []string) []string {
	if fn == nil {
		return tokens
	}
	out := tokens[:0]
	for _, tok := range tokens {
		if t := fn(tok); t != "" {
			out = append(out, t)
		}
	}
	return out
}
