// Package normalize canonicalizes raw query text and derives synonym variants.
package normalize

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/hyperjump/kakuri/internal/errs"
)

// DefaultPunctuation is kept by the character filter when the table does not set one.
const DefaultPunctuation = "?.,"

const defaultMaxVariants = 4

// Placeholders protect abbreviation expansions from the character filter.
const (
	markOpen  = '\uE000'
	markClose = '\uE001'
)

// Table is the on-disk normalizer configuration.
type Table struct {
	Abbreviations      map[string]string   `yaml:"abbreviations"`
	Synonyms           map[string][]string `yaml:"synonyms"`
	AllowedPunctuation *string             `yaml:"allowed_punctuation"`
	MaxVariants        int                 `yaml:"max_variants"`
}

type rule struct {
	key         string
	replacement string
}

// Normalizer is immutable after New and safe for concurrent use.
// A nil *Normalizer passes queries through unchanged.
type Normalizer struct {
	abbreviations []rule
	synonyms      []rule // key -> one alternate per entry, sorted
	strip         *regexp.Regexp
	maxVariants   int
}

// LoadTable reads a normalizer table from a YAML file.
func LoadTable(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &errs.ConfigError{Source: path, Err: fmt.Errorf("failed to read normalizer table: %w", err)}
	}
	var t Table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, &errs.ConfigError{Source: path, Err: fmt.Errorf("failed to parse normalizer table: %w", err)}
	}
	return &t, nil
}

// Load reads the table at path and builds a Normalizer from it.
func Load(path string) (*Normalizer, error) {
	t, err := LoadTable(path)
	if err != nil {
		return nil, err
	}
	n, err := New(t)
	if err != nil {
		var ce *errs.ConfigError
		if errors.As(err, &ce) && ce.Source == "" {
			ce.Source = path
		}
		return nil, err
	}
	return n, nil
}

// New compiles a Normalizer from t. A nil table yields a normalizer with no abbreviations
// or synonyms that still lower-cases, filters and collapses whitespace.
func New(t *Table) (*Normalizer, error) {
	if t == nil {
		t = &Table{}
	}
	punct := DefaultPunctuation
	if t.AllowedPunctuation != nil {
		punct = *t.AllowedPunctuation
	}
	strip, err := regexp.Compile(`[^\p{L}\p{N}_\s` + escapeClass(punct) + string(markOpen) + string(markClose) + `]`)
	if err != nil {
		return nil, errs.Config("", "allowed_punctuation", "invalid punctuation set %q: %v", punct, err)
	}

	n := &Normalizer{strip: strip, maxVariants: t.MaxVariants}
	if n.maxVariants <= 0 {
		n.maxVariants = defaultMaxVariants
	}

	for k, v := range t.Abbreviations {
		key := strings.ToLower(strings.TrimSpace(k))
		if key == "" {
			return nil, errs.Config("", "abbreviations", "empty abbreviation key")
		}
		val := strings.ToLower(strings.TrimSpace(v))
		if val == "" {
			return nil, errs.Config("", "abbreviations", "abbreviation %q has an empty expansion", k)
		}
		n.abbreviations = append(n.abbreviations, rule{key: key, replacement: val})
	}
	// Longest key first so "q4 fy" wins over "q4".
	sort.Slice(n.abbreviations, func(i, j int) bool {
		a, b := n.abbreviations[i].key, n.abbreviations[j].key
		if len(a) != len(b) {
			return len(a) > len(b)
		}
		return a < b
	})

	for k, alts := range t.Synonyms {
		key := strings.ToLower(strings.TrimSpace(k))
		if key == "" {
			return nil, errs.Config("", "synonyms", "empty synonym key")
		}
		for _, alt := range alts {
			alt = strings.ToLower(strings.TrimSpace(alt))
			if alt == "" || alt == key {
				continue
			}
			n.synonyms = append(n.synonyms, rule{key: key, replacement: alt})
		}
	}
	sort.SliceStable(n.synonyms, func(i, j int) bool {
		if n.synonyms[i].key != n.synonyms[j].key {
			return n.synonyms[i].key < n.synonyms[j].key
		}
		return n.synonyms[i].replacement < n.synonyms[j].replacement
	})
	return n, nil
}

// Normalize returns the canonical form of raw: lower-cased, abbreviations expanded
// (whole word, case-insensitive), characters outside the allow-list removed, whitespace
// collapsed and trimmed.
func (n *Normalizer) Normalize(raw string) string {
	if n == nil || n.strip == nil {
		return raw
	}
	s := strings.Map(func(r rune) rune {
		if r == markOpen || r == markClose {
			return -1
		}
		return unicode.ToLower(r)
	}, raw)

	// Expansions are parked behind placeholders so the character filter never touches them.
	var parked []string
	for _, r := range n.abbreviations {
		s = replaceWholeWord(s, r.key, func() string {
			parked = append(parked, r.replacement)
			return string(markOpen) + strconv.Itoa(len(parked)-1) + string(markClose)
		})
	}

	s = n.strip.ReplaceAllString(s, "")
	s = strings.Join(strings.Fields(s), " ")

	if len(parked) > 0 {
		s = restoreParked(s, parked)
		s = strings.Join(strings.Fields(s), " ")
	}
	return s
}

// Variants returns synonym-expanded alternates of an already canonical query, in a
// deterministic order and without the canonical query itself.
func (n *Normalizer) Variants(canonical string) []string {
	if n == nil || len(n.synonyms) == 0 || canonical == "" {
		return nil
	}
	seen := map[string]bool{canonical: true}
	var out []string
	for _, r := range n.synonyms {
		if len(out) >= n.maxVariants {
			break
		}
		v := replaceWholeWord(canonical, r.key, func() string { return r.replacement })
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

// replaceWholeWord replaces every occurrence of key in s that is bounded by non-word
// runes (or the string ends) with the value produced by repl.
func replaceWholeWord(s, key string, repl func() string) string {
	if key == "" || !strings.Contains(s, key) {
		return s
	}
	var b strings.Builder
	i := 0
	for {
		j := strings.Index(s[i:], key)
		if j < 0 {
			b.WriteString(s[i:])
			return b.String()
		}
		start := i + j
		end := start + len(key)
		if isBoundary(s, start, true) && isBoundary(s, end, false) {
			b.WriteString(s[i:start])
			b.WriteString(repl())
			i = end
			continue
		}
		_, size := utf8.DecodeRuneInString(s[start:])
		b.WriteString(s[i : start+size])
		i = start + size
	}
}

// isBoundary reports whether position pos in s is a word boundary on the given side.
func isBoundary(s string, pos int, before bool) bool {
	var r rune
	if before {
		if pos == 0 {
			return true
		}
		r, _ = utf8.DecodeLastRuneInString(s[:pos])
	} else {
		if pos >= len(s) {
			return true
		}
		r, _ = utf8.DecodeRuneInString(s[pos:])
	}
	return !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == markOpen || r == markClose)
}

func restoreParked(s string, parked []string) string {
	var b strings.Builder
	for len(s) > 0 {
		open := strings.IndexRune(s, markOpen)
		if open < 0 {
			b.WriteString(s)
			break
		}
		rest := s[open+utf8.RuneLen(markOpen):]
		closeIdx := strings.IndexRune(rest, markClose)
		if closeIdx < 0 {
			b.WriteString(s)
			break
		}
		idx, err := strconv.Atoi(rest[:closeIdx])
		if err != nil || idx < 0 || idx >= len(parked) {
			b.WriteString(s[:open])
			s = rest[closeIdx+utf8.RuneLen(markClose):]
			continue
		}
		b.WriteString(s[:open])
		b.WriteString(parked[idx])
		s = rest[closeIdx+utf8.RuneLen(markClose):]
	}
	return b.String()
}

// escapeClass escapes every rune of set for use inside a regexp character class.
func escapeClass(set string) string {
	var b strings.Builder
	for _, r := range set {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			b.WriteRune(r)
			continue
		}
		if r < utf8.RuneSelf {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
