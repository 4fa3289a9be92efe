// Package lexicon holds the versioned keyword tables used to interpret scenario
// steps: action verbs, form field aliases, stop words and scope markers. The
// tables are data, loaded from YAML, so new languages or synonyms do not need
// a code change.
package lexicon

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"unicode"

	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/locus/api/schemas"
)

//go:embed default.yaml
var defaultTables []byte

// ActionEntry lists the words that signal one action kind.
type ActionEntry struct {
	Kind    schemas.ActionType `yaml:"kind"`
	Phrases []string           `yaml:"phrases"`
	Tokens  []string           `yaml:"tokens"`
	Stems   []string           `yaml:"stems"`
}

// FieldEntry lists the aliases of one semantic form field kind.
type FieldEntry struct {
	Kind    string   `yaml:"kind"`
	Aliases []string `yaml:"aliases"`
}

// FieldHint is a field kind mentioned by a step, with every alias that can
// identify a matching element.
type FieldHint struct {
	Kind    string
	Aliases []string
}

// Lexicon is an immutable set of keyword tables. It is safe for concurrent use.
type Lexicon struct {
	Version    string        `yaml:"version"`
	Languages  []string      `yaml:"languages"`
	Actions    []ActionEntry `yaml:"actions"`
	Fields     []FieldEntry  `yaml:"fields"`
	Noise      []string      `yaml:"noise"`
	StopWords  []string      `yaml:"stop_words"`
	ModalWords []string      `yaml:"modal_words"`
	TabWords   []string      `yaml:"tab_words"`

	noise       map[string]struct{}
	stop        map[string]struct{}
	actionWords map[string]struct{}
	stems       []string
}

var (
	defaultOnce sync.Once
	defaultLex  *Lexicon
)

// Default returns the embedded tables.
func Default() *Lexicon {
	defaultOnce.Do(func() {
		lex, err := Load(bytes.NewReader(defaultTables))
		if err != nil {
			panic(fmt.Sprintf("embedded lexicon is invalid: %v", err))
		}
		defaultLex = lex
	})
	return defaultLex
}

// LoadFile reads tables from a YAML file. An empty path returns Default.
func LoadFile(path string) (*Lexicon, error) {
	if path == "" {
		return Default(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open lexicon file: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Load parses and validates tables from YAML.
func Load(r io.Reader) (*Lexicon, error) {
	var lex Lexicon
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&lex); err != nil {
		return nil, fmt.Errorf("failed to decode lexicon: %w", err)
	}
	if err := lex.validate(); err != nil {
		return nil, err
	}
	lex.index()
	return &lex, nil
}

func (l *Lexicon) validate() error {
	if strings.TrimSpace(l.Version) == "" {
		return fmt.Errorf("lexicon version is required")
	}
	if len(l.Actions) == 0 {
		return fmt.Errorf("lexicon %s defines no actions", l.Version)
	}
	seen := make(map[schemas.ActionType]bool)
	for _, a := range l.Actions {
		if schemas.ParseActionType(string(a.Kind)) == schemas.ActionUnknown {
			return fmt.Errorf("lexicon %s: unknown action kind %q", l.Version, a.Kind)
		}
		if seen[a.Kind] {
			return fmt.Errorf("lexicon %s: action kind %q listed twice", l.Version, a.Kind)
		}
		seen[a.Kind] = true
	}
	for _, f := range l.Fields {
		if f.Kind == "" || len(f.Aliases) == 0 {
			return fmt.Errorf("lexicon %s: field entries need a kind and aliases", l.Version)
		}
	}
	return nil
}

func (l *Lexicon) index() {
	l.noise = toSet(l.Noise)
	l.stop = toSet(l.StopWords)
	l.actionWords = make(map[string]struct{})
	for i := range l.Actions {
		a := &l.Actions[i]
		a.Phrases = normalizeAll(a.Phrases)
		a.Tokens = normalizeAll(a.Tokens)
		a.Stems = normalizeAll(a.Stems)
		for _, t := range a.Tokens {
			l.actionWords[t] = struct{}{}
		}
		l.stems = append(l.stems, a.Stems...)
	}
	for i := range l.Fields {
		l.Fields[i].Aliases = normalizeAll(l.Fields[i].Aliases)
	}
	l.ModalWords = normalizeAll(l.ModalWords)
	l.TabWords = normalizeAll(l.TabWords)
}

// InferAction returns the action kind signalled by the earliest action word in
// text. At one position, phrases beat tokens and tokens beat stems; among
// entries of the same strength the table order decides.
func (l *Lexicon) InferAction(text string) schemas.ActionType {
	tokens := Tokenize(text)
	for i := range tokens {
		for _, a := range l.Actions {
			for _, p := range a.Phrases {
				if phraseAt(tokens, i, p) {
					return a.Kind
				}
			}
		}
		for _, a := range l.Actions {
			for _, t := range a.Tokens {
				if tokens[i] == t {
					return a.Kind
				}
			}
		}
		for _, a := range l.Actions {
			for _, s := range a.Stems {
				if strings.HasPrefix(tokens[i], s) {
					return a.Kind
				}
			}
		}
	}
	return schemas.ActionUnknown
}

// IsActionWord reports whether token is an action verb or starts with an
// action stem.
func (l *Lexicon) IsActionWord(token string) bool {
	if _, ok := l.actionWords[token]; ok {
		return true
	}
	for _, s := range l.stems {
		if strings.HasPrefix(token, s) {
			return true
		}
	}
	return false
}

// FieldHints returns the field kinds text mentions, in table order.
func (l *Lexicon) FieldHints(text string) []FieldHint {
	lower := Normalize(text)
	tokens := Tokenize(text)
	var hints []FieldHint
	for _, f := range l.Fields {
		for _, alias := range f.Aliases {
			if mentions(lower, tokens, alias) {
				hints = append(hints, FieldHint{Kind: f.Kind, Aliases: f.Aliases})
				break
			}
		}
	}
	return hints
}

// IsNoise reports whether token carries no information about a step's target.
func (l *Lexicon) IsNoise(token string) bool {
	_, ok := l.noise[token]
	return ok
}

// IsStopWord reports whether token is ignored in semantic comparison.
func (l *Lexicon) IsStopWord(token string) bool {
	_, ok := l.stop[token]
	return ok
}

// MentionsModal reports whether text scopes a step to a modal dialog.
func (l *Lexicon) MentionsModal(text string) bool {
	return l.mentionsAny(text, l.ModalWords)
}

// MentionsTab reports whether text refers to a tab or section switch.
func (l *Lexicon) MentionsTab(text string) bool {
	return l.mentionsAny(text, l.TabWords)
}

func (l *Lexicon) mentionsAny(text string, words []string) bool {
	lower := Normalize(text)
	tokens := Tokenize(text)
	for _, w := range words {
		if mentions(lower, tokens, w) {
			return true
		}
	}
	return false
}

// Tokenize lowercases s and splits it into runs of letters, digits and marks.
func Tokenize(s string) []string {
	return strings.FieldsFunc(Normalize(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && !unicode.IsMark(r)
	})
}

// Normalize lowercases s. Lowercasing a dotted capital I yields i plus a
// combining dot, which is dropped so "İstanbul" and "istanbul" agree.
func Normalize(s string) string {
	return strings.ReplaceAll(strings.ToLower(s), "\u0307", "")
}

func normalizeAll(words []string) []string {
	out := make([]string, 0, len(words))
	for _, w := range words {
		if w = strings.TrimSpace(Normalize(w)); w != "" {
			out = append(out, w)
		}
	}
	return out
}

func toSet(words []string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range normalizeAll(words) {
		set[w] = struct{}{}
	}
	return set
}

// mentions matches single-word aliases against tokens and anything containing
// spaces or punctuation against the lowercased text.
func mentions(lower string, tokens []string, alias string) bool {
	if parts := Tokenize(alias); len(parts) == 1 && parts[0] == alias {
		for _, t := range tokens {
			if t == alias {
				return true
			}
		}
		return false
	}
	return strings.Contains(lower, alias)
}

func phraseAt(tokens []string, i int, phrase string) bool {
	parts := Tokenize(phrase)
	if len(parts) == 0 || i+len(parts) > len(tokens) {
		return false
	}
	for j, p := range parts {
		if tokens[i+j] != p {
			return false
		}
	}
	return true
}
