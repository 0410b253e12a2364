package preprocess

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var (
	whitespaceRe = regexp.MustCompile(`\s+`)
	breakRe      = regexp.MustCompile(`(?i)<br\s*/?>`)
	htmlTagRe    = regexp.MustCompile(`</?[a-zA-Z][^>]*>`)
	urlRe        = regexp.MustCompile(`https?://\S+|www\.\S+`)
)

// Cleaner normalizes raw review text before tokenization.
type Cleaner struct {
	StripURLs bool
}

func NewCleaner() *Cleaner {
	return &Cleaner{}
}

func (c *Cleaner) Clean(text string) string {
	text = strings.TrimRight(text, "\n")
	text = norm.NFC.String(text)
	text = breakRe.ReplaceAllString(text, " ")
	text = htmlTagRe.ReplaceAllString(text, "")
	if c.StripURLs {
		text = urlRe.ReplaceAllString(text, "")
	}
	text = normalizeQuotes(text)
	text = normalizePunctuation(text)
	text = whitespaceRe.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

func normalizeQuotes(text string) string {
	text = strings.ReplaceAll(text, "“", "\"")
	text = strings.ReplaceAll(text, "”", "\"")
	text = strings.ReplaceAll(text, "‘", "'")
	text = strings.ReplaceAll(text, "’", "'")
	text = strings.ReplaceAll(text, "«", "\"")
	text = strings.ReplaceAll(text, "»", "\"")
	return text
}

func normalizePunctuation(text string) string {
	text = strings.ReplaceAll(text, "—", " - ")
	text = strings.ReplaceAll(text, "–", " - ")
	text = strings.ReplaceAll(text, "…", "...")
	return text
}
