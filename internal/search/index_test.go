package search

import (
	"sync"
	"testing"
)

func TestOptionsAndDefaults(t *testing.T) {
	def := defaultConfig()
	if def.stopwords != nil || def.minScore != 0.2 || def.maxDocs != 5000 {
		t.Fatalf("defaultConfig unexpected: %#v", def)
	}

	cfg := def
	WithStopwords([]string{"  The ", "", "An"})(&cfg)
	if _, ok := cfg.stopwords["the"]; !ok {
		t.Fatalf("WithStopwords failed (missing 'the'): %#v", cfg.stopwords)
	}
	cfg2 := def
	WithStopwords(nil)(&cfg2)
	if cfg2.stopwords != nil {
		t.Fatalf("empty stopwords should remain nil")
	}

	WithMinScore(0.5)(&cfg)
	WithMinScore(2)(&cfg) // ignored
	if cfg.minScore != 0.5 {
		t.Fatalf("WithMinScore failed: %v", cfg.minScore)
	}
	WithMaxDocs(2)(&cfg)
	WithMaxDocs(0)(&cfg) // ignored
	if cfg.maxDocs != 2 {
		t.Fatalf("WithMaxDocs failed: %d", cfg.maxDocs)
	}
}

func TestSimilar_RanksByJaccard(t *testing.T) {
	idx := New(WithMinScore(0.1))
	idx.Add(1, "Dark mode for the mobile app")
	idx.Add(2, "Export requests as CSV")
	idx.Add(3, "Dark theme for the web app")

	got := idx.Similar("dark mode app", 5)
	if len(got) != 2 {
		t.Fatalf("expected 2 matches, got %+v", got)
	}
	if got[0].ID != 1 || got[1].ID != 3 {
		t.Fatalf("unexpected order: %+v", got)
	}
	if got[0].Score <= got[1].Score {
		t.Fatalf("scores not descending: %+v", got)
	}

	if got := idx.Similar("dark mode app", 1); len(got) != 1 {
		t.Fatalf("k should cap results, got %d", len(got))
	}
	if idx.Similar("   ", 3) != nil || idx.Similar("!!!", 3) != nil {
		t.Fatalf("blank or token-less queries must return nil")
	}
	if idx.Similar("kubernetes", 3) != nil {
		t.Fatalf("no overlap must return nil")
	}
}

func TestSimilar_MinScoreAndStopwords(t *testing.T) {
	idx := New(WithMinScore(0.9), WithStopwords([]string{"the"}))
	idx.Add(1, "the calendar sync")
	if got := idx.Similar("calendar", 3); got != nil {
		t.Fatalf("score below minimum must be filtered, got %+v", got)
	}
	if got := idx.Similar("the calendar sync", 3); len(got) != 1 || got[0].Score != 1 {
		t.Fatalf("identical text should score 1, got %+v", got)
	}
}

func TestAdd_ReindexAndEviction(t *testing.T) {
	idx := New(WithMaxDocs(2), WithMinScore(0.1))
	idx.Add(1, "alpha")
	idx.Add(1, "beta") // re-index replaces tokens
	if got := idx.Similar("alpha", 3); got != nil {
		t.Fatalf("re-indexed doc should not match old text: %+v", got)
	}
	idx.Add(2, "gamma")
	idx.Add(3, "delta") // evicts id 1
	if got := idx.Similar("beta", 3); got != nil {
		t.Fatalf("oldest doc should be evicted: %+v", got)
	}
	if got := idx.Similar("delta gamma", 3); len(got) != 2 {
		t.Fatalf("expected both remaining docs, got %+v", got)
	}
	idx.Add(4, "   ") // no tokens, ignored
}

func TestIndex_Concurrent(t *testing.T) {
	idx := New(WithMinScore(0.1))
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			idx.Add(int64(n), "shared words here")
			_ = idx.Similar("shared words", 3)
		}(i)
	}
	wg.Wait()
	if got := idx.Similar("shared words here", 100); len(got) != 50 {
		t.Fatalf("expected 50 docs, got %d", len(got))
	}
}

func TestTokenizeOverlapWhitespace(t *testing.T) {
	toks := tokenize("Привет, мир! Hello v2", nil)
	for _, w := range []string{"привет", "мир", "hello", "v2"} {
		if _, ok := toks[w]; !ok {
			t.Fatalf("missing token %q in %v", w, toks)
		}
	}
	if overlap(nil, toks) != 0 {
		t.Fatalf("overlap with empty set must be 0")
	}
	if normalizeWhitespace("a \t\n b") != "a b" {
		t.Fatalf("normalizeWhitespace failed: %q", normalizeWhitespace("a \t\n b"))
	}
}
