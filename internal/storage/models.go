package storage

import (
	"errors"
	"strings"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Category groups memories under a display name. Count is a maintained
// aggregate: after every completed mutation it equals the number of
// memories whose CategoryID references this category.
type Category struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Icon  string `json:"icon"`
	Color string `json:"color"`
	Count int64  `json:"count"`
}

// Memory is a single stored unit of user-submitted text plus its derived
// classification. Content is the immutable source of truth; everything
// else is derived or supplied.
type Memory struct {
	ID             int64          `json:"id"`
	Content        string         `json:"content"`
	Title          string         `json:"title"`
	CategoryID     *int64         `json:"categoryId"`
	Tags           []string       `json:"tags"`
	Keywords       []string       `json:"keywords"`
	StructuredData map[string]any `json:"structuredData"`
	AIScore        int            `json:"aiScore"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

// NewMemory holds the caller-supplied fields for memory creation.
// The store assigns ID and timestamps and fills defaults for the rest.
type NewMemory struct {
	Content        string
	Title          string
	CategoryID     *int64
	Tags           []string
	Keywords       []string
	StructuredData map[string]any
	AIScore        int
}

// MemoryPatch is a partial update. Nil pointer fields are left untouched.
// ClearCategory sets CategoryID to null and wins over CategoryID.
type MemoryPatch struct {
	Content        *string
	Title          *string
	CategoryID     *int64
	ClearCategory  bool
	Tags           *[]string
	Keywords       *[]string
	StructuredData *map[string]any
	AIScore        *int
}

// MatchesQuery reports whether the memory matches a case-insensitive
// substring query against title, content, any keyword, or any tag.
func (m Memory) MatchesQuery(query string) bool {
	q := strings.ToLower(query)
	if strings.Contains(strings.ToLower(m.Title), q) ||
		strings.Contains(strings.ToLower(m.Content), q) {
		return true
	}
	for _, k := range m.Keywords {
		if strings.Contains(strings.ToLower(k), q) {
			return true
		}
	}
	for _, t := range m.Tags {
		if strings.Contains(strings.ToLower(t), q) {
			return true
		}
	}
	return false
}

// clampScore keeps AI confidence scores within [0, 100].
func clampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
