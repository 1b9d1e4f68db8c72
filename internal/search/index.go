// Package search provides a small, deterministic, concurrency-safe in-memory
// index of feature requests used to point submitters at similar ideas that
// were already published.
//
//   - No logging in the library (callers decide how/what to log)
//   - Functional options for stop-words, minimum score, and capacity
//   - Unicode-aware tokenization (Cyrillic and Latin alike)
//   - Deterministic scoring and ordering (stable order for ties)
//
// Scoring uses Jaccard similarity between the query token set and each
// request's token set: score = |Q ∩ D| / |Q ∪ D|.
package search

import (
	"regexp"
	"sort"
	"strings"
	"sync"
)

// Match is a similar request with its similarity score.
type Match struct {
	ID    int64
	Score float64
}

// Index is the interface consumed by the publish flow.
type Index interface {
	Add(id int64, text string)
	Similar(text string, k int) []Match
}

// ----------------------------------------------------------------------------
// Options

type Option func(*config)

type config struct {
	stopwords map[string]struct{}
	minScore  float64
	maxDocs   int
}

func defaultConfig() config {
	return config{
		stopwords: nil,
		minScore:  0.2,
		maxDocs:   5000,
	}
}

// WithStopwords drops the given words from every token set.
func WithStopwords(words []string) Option {
	return func(c *config) {
		m := make(map[string]struct{}, len(words))
		for _, w := range words {
			w = strings.ToLower(strings.TrimSpace(w))
			if w != "" {
				m[w] = struct{}{}
			}
		}
		if len(m) > 0 {
			c.stopwords = m
		}
	}
}

// WithMinScore sets the lowest score reported by Similar, in [0,1].
func WithMinScore(s float64) Option {
	return func(c *config) {
		if s >= 0 && s <= 1 {
			c.minScore = s
		}
	}
}

// WithMaxDocs caps the number of indexed requests; the oldest are evicted.
func WithMaxDocs(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxDocs = n
		}
	}
}

// ----------------------------------------------------------------------------
// Implementation

type doc struct {
	id     int64
	tokens map[string]struct{}
}

type index struct {
	cfg  config
	mu   sync.RWMutex
	docs []doc
	pos  map[int64]int
}

// New returns an empty index.
func New(opts ...Option) Index {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	return &index{cfg: cfg, pos: make(map[int64]int)}
}

// Add indexes (or re-indexes) a request.
func (i *index) Add(id int64, text string) {
	toks := tokenize(normalizeWhitespace(text), i.cfg.stopwords)
	if len(toks) == 0 {
		return
	}
	i.mu.Lock()
	defer i.mu.Unlock()

	if p, ok := i.pos[id]; ok {
		i.docs[p].tokens = toks
		return
	}
	if len(i.docs) >= i.cfg.maxDocs {
		delete(i.pos, i.docs[0].id)
		i.docs = i.docs[1:]
		for p, d := range i.docs {
			i.pos[d.id] = p
		}
	}
	i.pos[id] = len(i.docs)
	i.docs = append(i.docs, doc{id: id, tokens: toks})
}

// Similar returns up to k requests whose score reaches the minimum.
func (i *index) Similar(q string, k int) []Match {
	if strings.TrimSpace(q) == "" {
		return nil
	}
	if k <= 0 {
		k = 3
	}
	qTokens := tokenize(q, i.cfg.stopwords)
	if len(qTokens) == 0 {
		return nil
	}
	qLen := len(qTokens)

	i.mu.RLock()
	buf := make([]Match, 0, k*2)
	for _, d := range i.docs {
		over := overlap(qTokens, d.tokens)
		if over == 0 {
			continue
		}
		union := float64(qLen + len(d.tokens) - over)
		score := float64(over) / union
		if score < i.cfg.minScore || score <= 0 {
			continue
		}
		buf = append(buf, Match{ID: d.id, Score: score})
	}
	i.mu.RUnlock()

	if len(buf) == 0 {
		return nil
	}
	sort.SliceStable(buf, func(a, b int) bool {
		if buf[a].Score != buf[b].Score {
			return buf[a].Score > buf[b].Score
		}
		return buf[a].ID < buf[b].ID
	})
	if k > len(buf) {
		k = len(buf)
	}
	return buf[:k]
}

// ----------------------------------------------------------------------------
// Helpers

var wordRE = regexp.MustCompile(`\p{L}+\p{N}*`)

func tokenize(s string, stop map[string]struct{}) map[string]struct{} {
	s = strings.ToLower(s)
	words := wordRE.FindAllString(s, -1)
	if len(words) == 0 {
		return nil
	}
	out := make(map[string]struct{}, len(words))
	for _, w := range words {
		if stop != nil {
			if _, skip := stop[w]; skip {
				continue
			}
		}
		out[w] = struct{}{}
	}
	return out
}

func overlap(a, b map[string]struct{}) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	n := 0
	if len(a) > len(b) {
		a, b = b, a
	}
	for k := range a {
		if _, ok := b[k]; ok {
			n++
		}
	}
	return n
}

func normalizeWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	prevSpace := false
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '\r' || r == '\n' {
			if !prevSpace {
				b.WriteByte(' ')
				prevSpace = true
			}
			continue
		}
		prevSpace = false
		b.WriteRune(r)
	}
	return b.String()
}
