package search

import (
	"context"
	"errors"
	"testing"

	"github.com/memobank/memobank/internal/storage"
)

type stubOracle struct {
	reply string
	err   error
	calls int
}

func (s *stubOracle) CompleteJSON(_ context.Context, _, _ string) (string, error) {
	s.calls++
	return s.reply, s.err
}

func candidates() []storage.Memory {
	return []storage.Memory{
		{ID: 1, Title: "Coffee with Alice", Content: "Meet Alice for coffee Tuesday", Keywords: []string{"coffee"}, Tags: []string{"social"}},
		{ID: 2, Title: "Passport renewal", Content: "Renew passport before June", Keywords: []string{"passport"}, Tags: []string{"admin"}},
		{ID: 3, Title: "Espresso machine", Content: "Descale the espresso machine", Keywords: []string{"espresso"}, Tags: []string{"home"}},
	}
}

func TestRankFiltersAndOrders(t *testing.T) {
	o := &stubOracle{reply: `{"relevantIds": [3, 1]}`}
	r := New(o)

	got := r.Rank(context.Background(), "coffee gear", candidates())
	if len(got) != 2 {
		t.Fatalf("got %d results, want 2", len(got))
	}
	if got[0].ID != 3 || got[1].ID != 1 {
		t.Errorf("order = [%d, %d], want [3, 1]", got[0].ID, got[1].ID)
	}
}

// An empty id list is a valid "nothing relevant" reply and must not
// trigger the substring fallback (which would match "coffee" here).
func TestRankEmptyReplyIsEmptyResult(t *testing.T) {
	o := &stubOracle{reply: `{"relevantIds": []}`}
	r := New(o)

	got := r.Rank(context.Background(), "coffee", candidates())
	if len(got) != 0 {
		t.Errorf("got %d results, want 0 (oracle said nothing is relevant)", len(got))
	}
}

func TestRankFallbackOnOracleError(t *testing.T) {
	o := &stubOracle{err: errors.New("timeout")}
	r := New(o)

	got := r.Rank(context.Background(), "coffee", candidates())
	// Only memory 1 mentions coffee, so the substring fallback keeps it alone.
	if len(got) != 1 || got[0].ID != 1 {
		t.Errorf("fallback results = %v, want only memory 1", got)
	}
}

func TestRankFallbackPreservesOrder(t *testing.T) {
	o := &stubOracle{err: errors.New("down")}
	r := New(o)

	cands := []storage.Memory{
		{ID: 5, Title: "alpha note", Content: "x"},
		{ID: 2, Title: "beta note", Content: "y"},
		{ID: 9, Title: "gamma note", Content: "z"},
	}
	got := r.Rank(context.Background(), "note", cands)
	if len(got) != 3 {
		t.Fatalf("got %d results, want 3", len(got))
	}
	if got[0].ID != 5 || got[1].ID != 2 || got[2].ID != 9 {
		t.Errorf("fallback reordered candidates: %v", got)
	}
}

func TestRankFallbackOnGarbageReply(t *testing.T) {
	o := &stubOracle{reply: "not json at all"}
	r := New(o)

	got := r.Rank(context.Background(), "passport", candidates())
	if len(got) != 1 || got[0].ID != 2 {
		t.Errorf("fallback results = %v, want only memory 2", got)
	}
}

func TestRankEmptyCandidatesSkipsOracle(t *testing.T) {
	o := &stubOracle{reply: `{"relevantIds": [1]}`}
	r := New(o)

	got := r.Rank(context.Background(), "anything", nil)
	if len(got) != 0 {
		t.Errorf("got %d results, want 0", len(got))
	}
	if o.calls != 0 {
		t.Errorf("oracle called %d times for empty candidates", o.calls)
	}
}

func TestRankIgnoresUnknownAndDuplicateIDs(t *testing.T) {
	o := &stubOracle{reply: `{"relevantIds": [42, 2, 2, 1]}`}
	r := New(o)

	got := r.Rank(context.Background(), "q", candidates())
	if len(got) != 2 {
		t.Fatalf("got %d results, want 2: %v", len(got), got)
	}
	if got[0].ID != 2 || got[1].ID != 1 {
		t.Errorf("order = [%d, %d], want [2, 1]", got[0].ID, got[1].ID)
	}
}
