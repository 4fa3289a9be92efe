// Package memory is the learned pattern cache: it records successful
// resolutions and recalls them by exact key, by partial action text, or by
// token similarity.
package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/xkilldash9x/locus/api/schemas"
	"github.com/xkilldash9x/locus/internal/lexicon"
	"github.com/xkilldash9x/locus/internal/observability"
)

// Tier names the retrieval stage that produced a match.
type Tier string

const (
	TierExact    Tier = "exact"
	TierPartial  Tier = "partial"
	TierSemantic Tier = "semantic"
	tierMiss     Tier = "miss"
)

// SemanticThreshold is the Jaccard similarity a stored action text must
// strictly exceed to be recalled semantically.
const SemanticThreshold = 0.3

// Query identifies what to recall.
type Query struct {
	ProjectID  string
	ActionText string
	URLPattern string
	IsInModal  bool
}

// Match is a recalled pattern. Similarity is 1 for exact and partial matches.
type Match struct {
	Pattern    schemas.MemoryPattern
	Tier       Tier
	Similarity float64
}

// Memory layers retrieval tiers and bookkeeping over a PatternStore.
type Memory struct {
	store   schemas.PatternStore
	lex     *lexicon.Lexicon
	log     *zap.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// Option configures a Memory.
type Option func(*Memory)

// WithClock overrides the time source used to stamp patterns.
func WithClock(now func() time.Time) Option {
	return func(m *Memory) { m.now = now }
}

// WithMetrics records lookups on metrics.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(m *Memory) { m.metrics = metrics }
}

// New returns a Memory over store. A nil lexicon selects the default one.
func New(store schemas.PatternStore, lex *lexicon.Lexicon, logger *zap.Logger, opts ...Option) *Memory {
	if lex == nil {
		lex = lexicon.Default()
	}
	m := &Memory{
		store: store,
		lex:   lex,
		log:   observability.OrNop(logger).Named("memory"),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Store normalizes p, stamps it and upserts it. The returned pattern carries
// the reinforced counters.
func (m *Memory) Store(ctx context.Context, p schemas.MemoryPattern) (schemas.MemoryPattern, error) {
	p.ActionText = schemas.NormalizeActionText(p.ActionText)
	switch {
	case p.ProjectID == "":
		return schemas.MemoryPattern{}, errors.New("pattern has no project id")
	case p.ActionText == "":
		return schemas.MemoryPattern{}, errors.New("pattern has no action text")
	case p.Selector == "":
		return schemas.MemoryPattern{}, errors.New("pattern has no selector")
	}
	if p.Confidence < 0 {
		p.Confidence = 0
	} else if p.Confidence > 100 {
		p.Confidence = 100
	}
	now := m.now().UTC()
	p.LastUsedAt = now
	p.CreatedAt = now

	out, err := m.store.Upsert(ctx, p)
	if err != nil {
		return schemas.MemoryPattern{}, fmt.Errorf("store pattern %q: %w", p.ActionText, err)
	}
	m.log.Debug("Stored pattern",
		zap.String("action", out.ActionText),
		zap.String("selector", out.Selector),
		zap.Int("success_count", out.SuccessCount),
		zap.Int("confidence", out.Confidence),
	)
	return out, nil
}

// Retrieve runs the exact, partial and semantic tiers in order and returns
// the best pattern of the first tier that finds any. A miss is (nil, nil).
func (m *Memory) Retrieve(ctx context.Context, q Query) (*Match, error) {
	action := schemas.NormalizeActionText(q.ActionText)
	if q.ProjectID == "" || action == "" {
		return nil, nil
	}

	if match, err := m.exact(ctx, q, action); err != nil || match != nil {
		return match, err
	}

	first, _, _ := strings.Cut(action, " ")
	partial, err := m.store.FindPartial(ctx, q.ProjectID, first, q.IsInModal)
	if err != nil {
		return nil, fmt.Errorf("partial lookup: %w", err)
	}
	if len(partial) > 0 {
		return m.hit(&Match{Pattern: partial[0], Tier: TierPartial, Similarity: 1}), nil
	}

	scope, err := m.store.ListScope(ctx, q.ProjectID, q.IsInModal)
	if err != nil {
		return nil, fmt.Errorf("semantic lookup: %w", err)
	}
	want := m.Tokens(action)
	var best *Match
	for _, p := range scope {
		sim := Jaccard(want, m.Tokens(p.ActionText))
		if sim <= SemanticThreshold {
			continue
		}
		if best == nil || sim > best.Similarity || (sim == best.Similarity && p.RanksAbove(best.Pattern)) {
			best = &Match{Pattern: p, Tier: TierSemantic, Similarity: sim}
		}
	}
	if best == nil {
		m.metrics.ObserveMemoryLookup(string(tierMiss))
		return nil, nil
	}
	return m.hit(best), nil
}

// RetrieveExact recalls by the full key only: project, action text, host and
// modal scope. A pattern learned for one target is never returned for
// another. A miss is (nil, nil).
func (m *Memory) RetrieveExact(ctx context.Context, q Query) (*Match, error) {
	action := schemas.NormalizeActionText(q.ActionText)
	if q.ProjectID == "" || action == "" {
		return nil, nil
	}
	match, err := m.exact(ctx, q, action)
	if err == nil && match == nil {
		m.metrics.ObserveMemoryLookup(string(tierMiss))
	}
	return match, err
}

func (m *Memory) exact(ctx context.Context, q Query, action string) (*Match, error) {
	found, err := m.store.FindExact(ctx, q.ProjectID, action, q.URLPattern, q.IsInModal)
	if err != nil {
		return nil, fmt.Errorf("exact lookup: %w", err)
	}
	if len(found) == 0 {
		return nil, nil
	}
	return m.hit(&Match{Pattern: found[0], Tier: TierExact, Similarity: 1}), nil
}

func (m *Memory) hit(match *Match) *Match {
	m.metrics.ObserveMemoryLookup(string(match.Tier))
	m.log.Debug("Recalled pattern",
		zap.String("tier", string(match.Tier)),
		zap.String("action", match.Pattern.ActionText),
		zap.String("selector", match.Pattern.Selector),
		zap.Float64("similarity", match.Similarity),
	)
	return match
}

// TopPatterns returns the most reinforced patterns of a project.
func (m *Memory) TopPatterns(ctx context.Context, projectID string, limit int) ([]schemas.MemoryPattern, error) {
	if limit <= 0 {
		limit = 10
	}
	return m.store.Top(ctx, projectID, limit)
}

// Cleanup deletes patterns that have fewer than minSuccessCount successes
// and were last used more than maxAgeDays ago.
func (m *Memory) Cleanup(ctx context.Context, projectID string, minSuccessCount, maxAgeDays int) (int64, error) {
	cutoff := m.now().UTC().AddDate(0, 0, -maxAgeDays)
	n, err := m.store.Cleanup(ctx, projectID, minSuccessCount, cutoff)
	if err != nil {
		return 0, err
	}
	m.log.Info("Cleaned up pattern memory",
		zap.String("project", projectID),
		zap.Int64("deleted", n),
		zap.Time("cutoff", cutoff),
	)
	return n, nil
}

// Tokens returns the distinct content words of text: stop words and words of
// two runes or fewer are dropped.
func (m *Memory) Tokens(text string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, tok := range lexicon.Tokenize(text) {
		if utf8.RuneCountInString(tok) <= 2 || m.lex.IsStopWord(tok) {
			continue
		}
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		out = append(out, tok)
	}
	return out
}

// Jaccard is |A∩B| / |A∪B| over the distinct elements of a and b. Two empty
// sets have similarity 0.
func Jaccard(a, b []string) float64 {
	set := make(map[string]uint8, len(a)+len(b))
	for _, s := range a {
		set[s] |= 1
	}
	for _, s := range b {
		set[s] |= 2
	}
	if len(set) == 0 {
		return 0
	}
	inter := 0
	for _, v := range set {
		if v == 3 {
			inter++
		}
	}
	return float64(inter) / float64(len(set))
}
