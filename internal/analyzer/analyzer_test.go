package analyzer

import (
	"context"
	"errors"
	"reflect"
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

func TestAnalyzeParsesReply(t *testing.T) {
	o := &stubOracle{reply: `{
		"title": "Coffee with Alice",
		"category": "Schedule",
		"keywords": ["alice", "coffee", "tuesday"],
		"tags": ["meeting", "social"],
		"structuredData": {"email": "alice@x.com", "day": "Tuesday"},
		"aiScore": 92
	}`}
	a := New(o, storage.NewMemStore())

	res := a.Analyze(context.Background(), "Meet Alice for coffee Tuesday")

	if res.Title != "Coffee with Alice" {
		t.Errorf("title = %q", res.Title)
	}
	if res.Category != "Schedule" {
		t.Errorf("category = %q", res.Category)
	}
	if !reflect.DeepEqual(res.Keywords, []string{"alice", "coffee", "tuesday"}) {
		t.Errorf("keywords = %v", res.Keywords)
	}
	if !reflect.DeepEqual(res.Tags, []string{"meeting", "social"}) {
		t.Errorf("tags = %v", res.Tags)
	}
	if res.StructuredData["email"] != "alice@x.com" {
		t.Errorf("structuredData = %v", res.StructuredData)
	}
	if res.AIScore != 92 {
		t.Errorf("aiScore = %d", res.AIScore)
	}
}

func TestAnalyzeSalvagesFencedReply(t *testing.T) {
	o := &stubOracle{reply: "Here you go:\n```json\n{\"title\": \"Note\", \"category\": \"Idea\", \"aiScore\": 55}\n```"}
	a := New(o, storage.NewMemStore())

	res := a.Analyze(context.Background(), "an idea")
	if res.Title != "Note" || res.Category != "Idea" || res.AIScore != 55 {
		t.Errorf("salvaged result = %+v", res)
	}
}

func TestAnalyzeDefaultsMissingFields(t *testing.T) {
	o := &stubOracle{reply: `{}`}
	a := New(o, storage.NewMemStore())

	res := a.Analyze(context.Background(), "whatever")
	if res.Title != "Untitled Memory" {
		t.Errorf("title = %q, want Untitled Memory", res.Title)
	}
	if res.Category != "Other" {
		t.Errorf("category = %q, want Other", res.Category)
	}
	if len(res.Keywords) != 0 || res.Keywords == nil {
		t.Errorf("keywords = %#v, want empty non-nil", res.Keywords)
	}
	if len(res.Tags) != 0 || res.Tags == nil {
		t.Errorf("tags = %#v, want empty non-nil", res.Tags)
	}
	if len(res.StructuredData) != 0 || res.StructuredData == nil {
		t.Errorf("structuredData = %#v, want empty non-nil", res.StructuredData)
	}
	if res.AIScore != 0 {
		t.Errorf("aiScore = %d, want 0", res.AIScore)
	}
}

func TestAnalyzeDefaultsMistypedFields(t *testing.T) {
	o := &stubOracle{reply: `{
		"title": "T",
		"keywords": "not-an-array",
		"tags": {"also": "wrong"},
		"structuredData": "nope",
		"aiScore": 150
	}`}
	a := New(o, storage.NewMemStore())

	res := a.Analyze(context.Background(), "x")
	if len(res.Keywords) != 0 {
		t.Errorf("keywords = %v, want empty", res.Keywords)
	}
	if len(res.Tags) != 0 {
		t.Errorf("tags = %v, want empty", res.Tags)
	}
	if len(res.StructuredData) != 0 {
		t.Errorf("structuredData = %v, want empty", res.StructuredData)
	}
	if res.AIScore != 100 {
		t.Errorf("aiScore = %d, want clamped to 100", res.AIScore)
	}
}

func TestAnalyzeDropsNestedStructuredData(t *testing.T) {
	o := &stubOracle{reply: `{"structuredData": {"email": "a@x.com", "nested": {"deep": true}, "list": [1,2]}}`}
	a := New(o, storage.NewMemStore())

	res := a.Analyze(context.Background(), "x")
	if res.StructuredData["email"] != "a@x.com" {
		t.Errorf("scalar field lost: %v", res.StructuredData)
	}
	if _, ok := res.StructuredData["nested"]; ok {
		t.Errorf("nested object kept: %v", res.StructuredData)
	}
	if _, ok := res.StructuredData["list"]; ok {
		t.Errorf("array kept: %v", res.StructuredData)
	}
}

func TestAnalyzeFallsBackOnOracleError(t *testing.T) {
	content := "Meet Alice for coffee Tuesday, her email is alice@x.com"
	o := &stubOracle{err: errors.New("connection refused")}
	a := New(o, storage.NewMemStore())

	res := a.Analyze(context.Background(), content)
	if !reflect.DeepEqual(res, Fallback(content)) {
		t.Errorf("oracle error did not produce fallback: %+v", res)
	}
}

func TestAnalyzeFallsBackOnGarbageReply(t *testing.T) {
	o := &stubOracle{reply: "sorry, I can't help with that"}
	a := New(o, storage.NewMemStore())

	res := a.Analyze(context.Background(), "something")
	if res.Category != "Other" || res.AIScore != 0 {
		t.Errorf("garbage reply did not produce fallback: %+v", res)
	}
}

// Two sequential analyses naming the same new category must share one
// category row, with the count tracking both memories.
func TestAnalyzeAndStoreReusesCategory(t *testing.T) {
	o := &stubOracle{reply: `{"title": "T", "category": "Project", "aiScore": 70}`}
	store := storage.NewMemStore()
	a := New(o, store)

	mem1, _, cat1, err := a.AnalyzeAndStore(context.Background(), "first")
	if err != nil {
		t.Fatalf("first AnalyzeAndStore: %v", err)
	}
	if cat1.Name != "Project" || cat1.Count != 1 {
		t.Errorf("first category = %+v, want Project with count 1", cat1)
	}

	mem2, _, cat2, err := a.AnalyzeAndStore(context.Background(), "second")
	if err != nil {
		t.Fatalf("second AnalyzeAndStore: %v", err)
	}
	if cat2.ID != cat1.ID {
		t.Errorf("category recreated: %d then %d", cat1.ID, cat2.ID)
	}
	if cat2.Count != 2 {
		t.Errorf("count after second = %d, want 2", cat2.Count)
	}
	if mem1.CategoryID == nil || mem2.CategoryID == nil || *mem1.CategoryID != *mem2.CategoryID {
		t.Errorf("memories reference different categories: %v, %v", mem1.CategoryID, mem2.CategoryID)
	}

	// Lazily created categories get the generic display defaults.
	if cat1.Icon != "folder" || cat1.Color != "gray" {
		t.Errorf("category display = %q/%q, want folder/gray", cat1.Icon, cat1.Color)
	}
}

func TestAnalyzeAndStoreSeededCategory(t *testing.T) {
	o := &stubOracle{reply: `{"title": "T", "category": "Idea", "aiScore": 80}`}
	store := storage.NewMemStore()
	a := New(o, store)

	_, _, cat, err := a.AnalyzeAndStore(context.Background(), "a thought")
	if err != nil {
		t.Fatalf("AnalyzeAndStore: %v", err)
	}
	seeded, _ := store.GetCategoryByName("Idea")
	if cat.ID != seeded.ID {
		t.Errorf("did not reuse seeded Idea category: got id %d, want %d", cat.ID, seeded.ID)
	}

	categories, _ := store.ListCategories()
	if len(categories) != len(storage.SeedCategories) {
		t.Errorf("category created for seeded name: %d categories", len(categories))
	}
}

func TestAnalyzeAndStoreFallbackPersists(t *testing.T) {
	o := &stubOracle{err: errors.New("oracle down")}
	store := storage.NewMemStore()
	a := New(o, store)

	mem, res, cat, err := a.AnalyzeAndStore(context.Background(), "untagged thought")
	if err != nil {
		t.Fatalf("AnalyzeAndStore: %v", err)
	}
	if cat.Name != "Other" {
		t.Errorf("category = %q, want Other", cat.Name)
	}
	if res.AIScore != 0 || mem.AIScore != 0 {
		t.Errorf("fallback scores = %d/%d, want 0", res.AIScore, mem.AIScore)
	}
	if len(mem.Tags) != 1 || mem.Tags[0] != "unprocessed" {
		t.Errorf("tags = %v, want [unprocessed]", mem.Tags)
	}

	got, err := store.GetMemory(mem.ID)
	if err != nil {
		t.Fatalf("memory not persisted: %v", err)
	}
	if got.Content != "untagged thought" {
		t.Errorf("persisted content = %q", got.Content)
	}
}
