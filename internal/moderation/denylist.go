package moderation

import (
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"
)

// DefaultProfanityTerms is used when no denylist is configured.
var DefaultProfanityTerms = []string{
	"fuck",
	"fucking",
	"shit",
	"bitch",
	"asshole",
	"bastard",
	"cunt",
	"motherfucker",
	"плохое",
	"ругательство",
	"мат",
}

var nonTokenChars = regexp.MustCompile(`[^\pL\pN\s]+`)

// Denylist holds normalized single-word terms, multi-word phrases, and
// regular expressions. Patterns see the text lower-cased with diacritics
// folded but punctuation kept.
type Denylist struct {
	terms    map[string]struct{}
	phrases  []string
	patterns []*regexp.Regexp
}

type denylistFile struct {
	Terms    []string `yaml:"terms"`
	Patterns []string `yaml:"patterns"`
}

// NewDenylist compiles terms and patterns. Patterns use RE2 syntax and are
// matched case-insensitively.
func NewDenylist(terms, patterns []string) (*Denylist, error) {
	d := &Denylist{terms: make(map[string]struct{})}
	for _, term := range terms {
		tokens := tokenize(term)
		switch len(tokens) {
		case 0:
			continue
		case 1:
			d.terms[tokens[0]] = struct{}{}
		default:
			d.phrases = append(d.phrases, " "+strings.Join(tokens, " ")+" ")
		}
	}
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, fmt.Errorf("compile denylist pattern %q: %w", p, err)
		}
		d.patterns = append(d.patterns, re)
	}
	return d, nil
}

// DefaultDenylist returns the built-in term list.
func DefaultDenylist() *Denylist {
	d, _ := NewDenylist(DefaultProfanityTerms, nil)
	return d
}

// LoadDenylist reads a YAML document with `terms` and `patterns` lists and
// merges it with extra terms.
func LoadDenylist(path string, extraTerms []string) (*Denylist, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read denylist: %w", err)
	}
	var doc denylistFile
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse denylist %s: %w", path, err)
	}
	return NewDenylist(append(doc.Terms, extraTerms...), doc.Patterns)
}

// Size returns the number of configured entries.
func (d *Denylist) Size() int {
	if d == nil {
		return 0
	}
	return len(d.terms) + len(d.phrases) + len(d.patterns)
}

// Match reports whether text contains a denylisted term, phrase, or pattern.
func (d *Denylist) Match(text string) bool {
	if d == nil {
		return false
	}
	tokens := tokenize(text)
	for _, tok := range tokens {
		if _, ok := d.terms[tok]; ok {
			return true
		}
	}
	if len(d.phrases) > 0 {
		joined := " " + strings.Join(tokens, " ") + " "
		for _, phrase := range d.phrases {
			if strings.Contains(joined, phrase) {
				return true
			}
		}
	}
	if len(d.patterns) > 0 {
		folded := fold(strings.ToLower(text))
		for _, re := range d.patterns {
			if re.MatchString(folded) {
				return true
			}
		}
	}
	return false
}

// tokenize lower-cases, strips punctuation and folds diacritics so that
// "Shït!" and "shit" produce the same token.
func tokenize(text string) []string {
	return strings.Fields(fold(strings.ToLower(nonTokenChars.ReplaceAllString(text, " "))))
}

// fold removes combining marks after canonical decomposition.
func fold(text string) string {
	normFunc := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(normFunc, text)
	if err != nil {
		slog.Warn("unicode normalization error", "err", err)
		return text
	}
	return folded
}
