package cache

import (
	"testing"
)

func TestJaccard(t *testing.T) {
	cases := []struct {
		name string
		a, b string
		want float64
	}{
		{"identical", "the quick brown fox", "the quick brown fox", 1.0},
		{"disjoint", "alpha beta", "gamma delta", 0.0},
		{"half overlap", "a b c d", "c d e f", 1.0 / 3.0},
		{"empty query", "", "a b", 0.0},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := jaccard(tokenize(c.a), tokenize(c.b))
			if diff := got - c.want; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("jaccard(%q, %q) = %v, want %v", c.a, c.b, got, c.want)
			}
		})
	}
}

func TestSimilar_OrderedAndThresholded(t *testing.T) {
	c := newTestCache(t, 1<<20)

	entries := []string{
		"the quick brown fox jumps over the lazy dog",
		"the quick brown fox sleeps",
		"completely unrelated sentence here",
	}
	for _, text := range entries {
		artifact := writeArtifact(t, 32)
		if _, err := c.Store(text, "mock", "v1", "en-US", artifact, 1.0, nil); err != nil {
			t.Fatalf("Store failed: %v", err)
		}
	}

	matches := c.Similar("the quick brown fox jumps over the lazy dog", 0.3, 10)
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches above threshold, got %d", len(matches))
	}
	// 完全一致的条目排在最前
	if matches[0].Similarity != 1.0 {
		t.Errorf("best match similarity: got %v, want 1.0", matches[0].Similarity)
	}
	if matches[0].Similarity < matches[1].Similarity {
		t.Error("matches not sorted by similarity descending")
	}

	// limit 截断
	if got := c.Similar("the quick brown fox", 0.1, 1); len(got) != 1 {
		t.Errorf("limit not applied: got %d matches", len(got))
	}

	// 高阈值过滤掉所有结果
	if got := c.Similar("fox", 0.99, 10); len(got) != 0 {
		t.Errorf("expected no matches at 0.99 threshold, got %d", len(got))
	}
}
