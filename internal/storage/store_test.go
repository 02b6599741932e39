package storage

import (
	"errors"
	"testing"
	"time"
)

// forEachStore runs the shared contract tests against both implementations.
func forEachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Helper()
	t.Run("mem", func(t *testing.T) {
		s := NewMemStore()
		t.Cleanup(func() { s.Close() })
		fn(t, s)
	})
	t.Run("sqlite", func(t *testing.T) {
		s, err := Open(":memory:")
		if err != nil {
			t.Fatalf("Open(:memory:) failed: %v", err)
		}
		t.Cleanup(func() { s.Close() })
		fn(t, s)
	})
}

func mustCreateMemory(t *testing.T, s Store, nm NewMemory) Memory {
	t.Helper()
	m, err := s.CreateMemory(nm)
	if err != nil {
		t.Fatalf("CreateMemory: %v", err)
	}
	return m
}

// assertCountInvariant checks count == |{m : m.categoryId == c.id}| for
// every category.
func assertCountInvariant(t *testing.T, s Store) {
	t.Helper()
	categories, err := s.ListCategories()
	if err != nil {
		t.Fatalf("ListCategories: %v", err)
	}
	for _, c := range categories {
		members, err := s.ListMemoriesByCategory(c.ID)
		if err != nil {
			t.Fatalf("ListMemoriesByCategory(%d): %v", c.ID, err)
		}
		if c.Count != int64(len(members)) {
			t.Errorf("category %q count = %d, want %d", c.Name, c.Count, len(members))
		}
	}
}

func TestSeedCategories(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		categories, err := s.ListCategories()
		if err != nil {
			t.Fatalf("ListCategories: %v", err)
		}
		if len(categories) != len(SeedCategories) {
			t.Fatalf("got %d seed categories, want %d", len(categories), len(SeedCategories))
		}
		for i, c := range categories {
			if c.ID != int64(i+1) {
				t.Errorf("category %q id = %d, want %d", c.Name, c.ID, i+1)
			}
			if c.Name != SeedCategories[i].Name {
				t.Errorf("category %d name = %q, want %q", i, c.Name, SeedCategories[i].Name)
			}
			if c.Count != 0 {
				t.Errorf("seed category %q count = %d, want 0", c.Name, c.Count)
			}
		}
	})
}

func TestGetCategoryByName(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		c, err := s.GetCategoryByName("Idea")
		if err != nil {
			t.Fatalf("GetCategoryByName(Idea): %v", err)
		}
		if c.Name != "Idea" {
			t.Errorf("got name %q, want Idea", c.Name)
		}
		if _, err := s.GetCategoryByName("Nope"); !errors.Is(err, ErrNotFound) {
			t.Errorf("GetCategoryByName(Nope) err = %v, want ErrNotFound", err)
		}
	})
}

func TestCreateMemoryDefaults(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		created := mustCreateMemory(t, s, NewMemory{Content: "hello world", Title: "hello"})

		got, err := s.GetMemory(created.ID)
		if err != nil {
			t.Fatalf("GetMemory(%d): %v", created.ID, err)
		}

		if got.ID < 1 {
			t.Errorf("id = %d, want positive", got.ID)
		}
		if got.Content != "hello world" || got.Title != "hello" {
			t.Errorf("content/title mismatch: %+v", got)
		}
		if got.CategoryID != nil {
			t.Errorf("categoryId = %v, want nil", *got.CategoryID)
		}
		if got.Tags == nil || len(got.Tags) != 0 {
			t.Errorf("tags = %#v, want empty non-nil", got.Tags)
		}
		if got.Keywords == nil || len(got.Keywords) != 0 {
			t.Errorf("keywords = %#v, want empty non-nil", got.Keywords)
		}
		if got.StructuredData == nil || len(got.StructuredData) != 0 {
			t.Errorf("structuredData = %#v, want empty non-nil", got.StructuredData)
		}
		if got.AIScore != 0 {
			t.Errorf("aiScore = %d, want 0", got.AIScore)
		}
		if !got.CreatedAt.Equal(got.UpdatedAt) {
			t.Errorf("createdAt %v != updatedAt %v", got.CreatedAt, got.UpdatedAt)
		}
	})
}

func TestCreateMemoryClampsScore(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		m := mustCreateMemory(t, s, NewMemory{Content: "c", Title: "t", AIScore: 150})
		if m.AIScore != 100 {
			t.Errorf("aiScore = %d, want 100", m.AIScore)
		}
		m = mustCreateMemory(t, s, NewMemory{Content: "c", Title: "t", AIScore: -5})
		if m.AIScore != 0 {
			t.Errorf("aiScore = %d, want 0", m.AIScore)
		}
	})
}

func TestCategoryCountMaintained(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		cat, err := s.CreateCategory("Project", "folder", "gray")
		if err != nil {
			t.Fatalf("CreateCategory: %v", err)
		}

		m1 := mustCreateMemory(t, s, NewMemory{Content: "a", Title: "a", CategoryID: &cat.ID})
		mustCreateMemory(t, s, NewMemory{Content: "b", Title: "b", CategoryID: &cat.ID})

		got, err := s.GetCategory(cat.ID)
		if err != nil {
			t.Fatalf("GetCategory: %v", err)
		}
		if got.Count != 2 {
			t.Errorf("count after 2 creates = %d, want 2", got.Count)
		}
		assertCountInvariant(t, s)

		if err := s.DeleteMemory(m1.ID); err != nil {
			t.Fatalf("DeleteMemory: %v", err)
		}
		got, _ = s.GetCategory(cat.ID)
		if got.Count != 1 {
			t.Errorf("count after delete = %d, want 1", got.Count)
		}
		assertCountInvariant(t, s)
	})
}

func TestUpdateMemory(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		created := mustCreateMemory(t, s, NewMemory{Content: "original", Title: "before"})

		title := "after"
		score := 42
		updated, err := s.UpdateMemory(created.ID, MemoryPatch{Title: &title, AIScore: &score})
		if err != nil {
			t.Fatalf("UpdateMemory: %v", err)
		}

		if updated.ID != created.ID {
			t.Errorf("id changed: %d -> %d", created.ID, updated.ID)
		}
		if !updated.CreatedAt.Equal(created.CreatedAt) {
			t.Errorf("createdAt changed: %v -> %v", created.CreatedAt, updated.CreatedAt)
		}
		if updated.UpdatedAt.Before(created.UpdatedAt) {
			t.Errorf("updatedAt went backwards: %v -> %v", created.UpdatedAt, updated.UpdatedAt)
		}
		if updated.Title != "after" || updated.Content != "original" {
			t.Errorf("patch applied wrong: %+v", updated)
		}
		if updated.AIScore != 42 {
			t.Errorf("aiScore = %d, want 42", updated.AIScore)
		}

		if _, err := s.UpdateMemory(9999, MemoryPatch{Title: &title}); !errors.Is(err, ErrNotFound) {
			t.Errorf("UpdateMemory(unknown) err = %v, want ErrNotFound", err)
		}
	})
}

func TestUpdateMemoryCategoryChangeRecountsBoth(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		catA, _ := s.CreateCategory("A", "folder", "gray")
		catB, _ := s.CreateCategory("B", "folder", "gray")

		m := mustCreateMemory(t, s, NewMemory{Content: "x", Title: "x", CategoryID: &catA.ID})

		if _, err := s.UpdateMemory(m.ID, MemoryPatch{CategoryID: &catB.ID}); err != nil {
			t.Fatalf("UpdateMemory: %v", err)
		}

		gotA, _ := s.GetCategory(catA.ID)
		gotB, _ := s.GetCategory(catB.ID)
		if gotA.Count != 0 {
			t.Errorf("old category count = %d, want 0", gotA.Count)
		}
		if gotB.Count != 1 {
			t.Errorf("new category count = %d, want 1", gotB.Count)
		}

		// Explicit null clears the category and recounts.
		if _, err := s.UpdateMemory(m.ID, MemoryPatch{ClearCategory: true}); err != nil {
			t.Fatalf("UpdateMemory(clear): %v", err)
		}
		gotB, _ = s.GetCategory(catB.ID)
		if gotB.Count != 0 {
			t.Errorf("cleared category count = %d, want 0", gotB.Count)
		}
		got, _ := s.GetMemory(m.ID)
		if got.CategoryID != nil {
			t.Errorf("categoryId = %v, want nil", *got.CategoryID)
		}
		assertCountInvariant(t, s)
	})
}

func TestDeleteMemory(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		if err := s.DeleteMemory(9999); !errors.Is(err, ErrNotFound) {
			t.Errorf("DeleteMemory(unknown) err = %v, want ErrNotFound", err)
		}

		m := mustCreateMemory(t, s, NewMemory{Content: "bye", Title: "bye"})
		if err := s.DeleteMemory(m.ID); err != nil {
			t.Fatalf("DeleteMemory: %v", err)
		}
		if _, err := s.GetMemory(m.ID); !errors.Is(err, ErrNotFound) {
			t.Errorf("GetMemory(deleted) err = %v, want ErrNotFound", err)
		}
		// Deleting twice stays ErrNotFound.
		if err := s.DeleteMemory(m.ID); !errors.Is(err, ErrNotFound) {
			t.Errorf("second DeleteMemory err = %v, want ErrNotFound", err)
		}
	})
}

func TestMemoryIDsNeverReused(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		m1 := mustCreateMemory(t, s, NewMemory{Content: "a", Title: "a"})
		if err := s.DeleteMemory(m1.ID); err != nil {
			t.Fatalf("DeleteMemory: %v", err)
		}
		m2 := mustCreateMemory(t, s, NewMemory{Content: "b", Title: "b"})
		if m2.ID <= m1.ID {
			t.Errorf("id reused: first %d, second %d", m1.ID, m2.ID)
		}
	})
}

func TestListMemoriesNewestFirst(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		first := mustCreateMemory(t, s, NewMemory{Content: "first", Title: "first"})
		second := mustCreateMemory(t, s, NewMemory{Content: "second", Title: "second"})
		third := mustCreateMemory(t, s, NewMemory{Content: "third", Title: "third"})

		all, err := s.ListMemories()
		if err != nil {
			t.Fatalf("ListMemories: %v", err)
		}
		if len(all) != 3 {
			t.Fatalf("got %d memories, want 3", len(all))
		}
		wantOrder := []int64{third.ID, second.ID, first.ID}
		for i, want := range wantOrder {
			if all[i].ID != want {
				t.Errorf("position %d: id = %d, want %d", i, all[i].ID, want)
			}
		}
	})
}

func TestListMemoriesByCategoryFilters(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		cat, _ := s.CreateCategory("Work", "folder", "gray")
		inCat := mustCreateMemory(t, s, NewMemory{Content: "a", Title: "a", CategoryID: &cat.ID})
		mustCreateMemory(t, s, NewMemory{Content: "b", Title: "b"})

		got, err := s.ListMemoriesByCategory(cat.ID)
		if err != nil {
			t.Fatalf("ListMemoriesByCategory: %v", err)
		}
		if len(got) != 1 || got[0].ID != inCat.ID {
			t.Errorf("got %v, want only memory %d", got, inCat.ID)
		}
	})
}

// Tie-breaking on equal createdAt is only controllable on the in-memory
// store, where the clock can be pinned.
func TestListMemoriesTieBreakInsertionOrder(t *testing.T) {
	s := NewMemStore()
	fixed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	a := mustCreateMemory(t, s, NewMemory{Content: "a", Title: "a"})
	b := mustCreateMemory(t, s, NewMemory{Content: "b", Title: "b"})

	all, err := s.ListMemories()
	if err != nil {
		t.Fatalf("ListMemories: %v", err)
	}
	if all[0].ID != a.ID || all[1].ID != b.ID {
		t.Errorf("tie order = [%d, %d], want [%d, %d]", all[0].ID, all[1].ID, a.ID, b.ID)
	}
}

func TestSearchMemoriesLocal(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		mustCreateMemory(t, s, NewMemory{
			Content:  "Meet Alice for coffee Tuesday, her email is alice@x.com",
			Title:    "Coffee with Alice",
			Keywords: []string{"coffee", "tuesday"},
			Tags:     []string{"social"},
		})
		mustCreateMemory(t, s, NewMemory{Content: "Renew passport", Title: "Passport"})

		cases := []struct {
			query string
			want  int
		}{
			{"alice", 1},  // content, case-insensitive
			{"ALICE", 1},  // case-insensitive
			{"social", 1}, // tag
			{"tuesday", 1},
			{"passport", 1},
			{"zeppelin", 0},
		}
		for _, tc := range cases {
			got, err := s.SearchMemoriesLocal(tc.query)
			if err != nil {
				t.Fatalf("SearchMemoriesLocal(%q): %v", tc.query, err)
			}
			if len(got) != tc.want {
				t.Errorf("SearchMemoriesLocal(%q) returned %d results, want %d", tc.query, len(got), tc.want)
			}
		}
	})
}

func TestSetCategoryCountUnknownIsNoop(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		if err := s.SetCategoryCount(9999, 7); err != nil {
			t.Fatalf("SetCategoryCount(unknown): %v", err)
		}
		categories, _ := s.ListCategories()
		for _, c := range categories {
			if c.Count != 0 {
				t.Errorf("category %q count mutated to %d", c.Name, c.Count)
			}
		}
	})
}
