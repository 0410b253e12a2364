package tokenizer

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/clipperhouse/uax29/v2/words"
)

// Tokenizer splits a text into tokens. Implementations must be safe for
// concurrent use.
type Tokenizer interface {
	Tokenize(text string) []string
	Name() string
}

func init() {
	Register("whitespace", func() (Tokenizer, error) { return whitespace{}, nil })
	Register("basic_english", func() (Tokenizer, error) { return newBasicEnglish(), nil })
	Register("uax29", func() (Tokenizer, error) { return &wordBoundary{name: "uax29"}, nil })
	Register("spacy", func() (Tokenizer, error) { return &wordBoundary{name: "spacy", clitics: true}, nil })
}

type whitespace struct{}

func (whitespace) Name() string { return "whitespace" }

func (whitespace) Tokenize(text string) []string {
	return strings.Fields(text)
}

// basicEnglish lowercases and pads punctuation with spaces before splitting.
type basicEnglish struct {
	patterns     []*regexp.Regexp
	replacements []string
}

func newBasicEnglish() *basicEnglish {
	pairs := []struct{ pattern, repl string }{
		{`'`, ` '  `},
		{`"`, ``},
		{`\.`, ` . `},
		{`<br \/>`, ` `},
		{`,`, ` , `},
		{`\(`, ` ( `},
		{`\)`, ` ) `},
		{`!`, ` ! `},
		{`\?`, ` ? `},
		{`;`, ` `},
		{`:`, ` `},
		{`\s+`, ` `},
	}
	b := &basicEnglish{}
	for _, p := range pairs {
		b.patterns = append(b.patterns, regexp.MustCompile(p.pattern))
		b.replacements = append(b.replacements, p.repl)
	}
	return b
}

func (b *basicEnglish) Name() string { return "basic_english" }

func (b *basicEnglish) Tokenize(text string) []string {
	text = strings.ToLower(text)
	for i, re := range b.patterns {
		text = re.ReplaceAllString(text, b.replacements[i])
	}
	return strings.Fields(text)
}

// wordBoundary segments on Unicode word boundaries (UAX #29), dropping
// whitespace segments. With clitics set, English contractions are split the
// way spaCy's English tokenizer does ("don't" -> "do", "n't").
type wordBoundary struct {
	name    string
	clitics bool
}

func (w *wordBoundary) Name() string { return w.name }

func (w *wordBoundary) Tokenize(text string) []string {
	var tokens []string
	seg := words.FromString(text)
	for seg.Next() {
		tok := seg.Value()
		if isSpace(tok) {
			continue
		}
		if w.clitics {
			tokens = appendClitics(tokens, tok)
			continue
		}
		tokens = append(tokens, tok)
	}
	return tokens
}

func isSpace(s string) bool {
	for _, r := range s {
		if !unicode.IsSpace(r) {
			return false
		}
	}
	return true
}

var suffixes = []string{"n't", "'s", "'re", "'ve", "'ll", "'d", "'m"}

// irregular contractions whose stem is not the token minus its suffix
var irregular = map[string][2]string{
	"can't":   {"ca", "n't"},
	"won't":   {"wo", "n't"},
	"shan't":  {"sha", "n't"},
	"ain't":   {"ai", "n't"},
	"cannot":  {"can", "not"},
	"gonna":   {"gon", "na"},
	"gotta":   {"got", "ta"},
	"wanna":   {"wan", "na"},
	"lemme":   {"lem", "me"},
	"o'clock": {"o'clock", ""},
}

func appendClitics(tokens []string, tok string) []string {
	lower := strings.ToLower(tok)
	if parts, ok := irregular[lower]; ok {
		n := len(parts[0])
		tokens = append(tokens, tok[:n])
		if parts[1] != "" {
			tokens = append(tokens, tok[n:])
		}
		return tokens
	}
	for _, suf := range suffixes {
		if len(lower) > len(suf) && strings.HasSuffix(lower, suf) {
			cut := len(tok) - len(suf)
			return append(tokens, tok[:cut], tok[cut:])
		}
	}
	return append(tokens, tok)
}
