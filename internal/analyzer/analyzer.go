// Package analyzer turns free-form text into a classified, persisted
// memory. The oracle does the understanding; a deterministic heuristic
// covers every way the oracle can fail.
package analyzer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"github.com/memobank/memobank/internal/oracle"
	"github.com/memobank/memobank/internal/storage"
)

// Icon and color for categories the oracle names that don't exist yet.
const (
	defaultCategoryIcon  = "folder"
	defaultCategoryColor = "gray"
)

// Result is the normalized analysis of one piece of content. Every field
// is defaulted: a Result is always safe to persist.
type Result struct {
	Title          string         `json:"title"`
	Category       string         `json:"category"`
	Keywords       []string       `json:"keywords"`
	Tags           []string       `json:"tags"`
	StructuredData map[string]any `json:"structuredData"`
	AIScore        int            `json:"aiScore"`
}

// Analyzer classifies content via the oracle and persists the outcome.
type Analyzer struct {
	oracle oracle.Client
	store  storage.Store

	// Serializes category lookup-or-create per name so concurrent
	// analyses of the same new category can't both insert it.
	creates singleflight.Group
}

func New(client oracle.Client, store storage.Store) *Analyzer {
	return &Analyzer{oracle: client, store: store}
}

// Analyze classifies content. It never fails: any oracle error or
// unusable reply degrades to the deterministic fallback.
func (a *Analyzer) Analyze(ctx context.Context, content string) Result {
	raw, err := a.oracle.CompleteJSON(ctx, systemPrompt, content)
	if err != nil {
		slog.Warn("content analysis failed, using fallback", "error", err)
		return Fallback(content)
	}

	res, err := parseResult(raw)
	if err != nil {
		slog.Warn("unusable analysis reply, using fallback", "error", err)
		return Fallback(content)
	}
	return res
}

// AnalyzeAndStore runs the full pipeline: analyze, resolve the category
// (lookup-or-create by exact name), then create the memory. The memory is
// only written after the category write succeeds, so a failure never
// leaves a half-persisted analysis.
func (a *Analyzer) AnalyzeAndStore(ctx context.Context, content string) (storage.Memory, Result, storage.Category, error) {
	res := a.Analyze(ctx, content)

	cat, err := a.resolveCategory(res.Category)
	if err != nil {
		return storage.Memory{}, Result{}, storage.Category{}, fmt.Errorf("resolving category %q: %w", res.Category, err)
	}

	mem, err := a.store.CreateMemory(storage.NewMemory{
		Content:        content,
		Title:          res.Title,
		CategoryID:     &cat.ID,
		Tags:           res.Tags,
		Keywords:       res.Keywords,
		StructuredData: res.StructuredData,
		AIScore:        res.AIScore,
	})
	if err != nil {
		return storage.Memory{}, Result{}, storage.Category{}, fmt.Errorf("creating memory: %w", err)
	}

	// The create bumped the category count; re-read so the caller sees it.
	cat, err = a.store.GetCategory(cat.ID)
	if err != nil {
		return storage.Memory{}, Result{}, storage.Category{}, fmt.Errorf("rereading category: %w", err)
	}
	return mem, res, cat, nil
}

// resolveCategory finds the category with exactly the given name, creating
// it with generic display defaults if absent. Calls for the same name are
// collapsed through singleflight so the lookup-or-create is race-free.
func (a *Analyzer) resolveCategory(name string) (storage.Category, error) {
	v, err, _ := a.creates.Do(name, func() (any, error) {
		cat, err := a.store.GetCategoryByName(name)
		if err == nil {
			return cat, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
		return a.store.CreateCategory(name, defaultCategoryIcon, defaultCategoryColor)
	})
	if err != nil {
		return storage.Category{}, err
	}
	return v.(storage.Category), nil
}

// parseResult normalizes a raw oracle reply. Missing or mis-typed fields
// are defaulted individually; only a reply with no JSON object at all is
// an error.
func parseResult(raw string) (Result, error) {
	obj, ok := oracle.ExtractJSONObject(raw)
	if !ok {
		return Result{}, fmt.Errorf("no JSON object in reply")
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(obj), &fields); err != nil {
		return Result{}, fmt.Errorf("unmarshalling reply: %w", err)
	}

	res := Result{
		Title:          "Untitled Memory",
		Category:       fallbackCategory,
		Keywords:       []string{},
		Tags:           []string{},
		StructuredData: map[string]any{},
	}

	if v, ok := fields["title"]; ok {
		var s string
		if json.Unmarshal(v, &s) == nil && s != "" {
			res.Title = truncateTitle(s)
		}
	}
	if v, ok := fields["category"]; ok {
		var s string
		if json.Unmarshal(v, &s) == nil && s != "" {
			res.Category = s
		}
	}
	res.Keywords = stringList(fields["keywords"])
	res.Tags = stringList(fields["tags"])
	res.StructuredData = scalarMap(fields["structuredData"])
	if v, ok := fields["aiScore"]; ok {
		var f float64
		if json.Unmarshal(v, &f) == nil {
			res.AIScore = clamp(int(f))
		}
	}
	return res, nil
}

// stringList decodes a JSON array, keeping only its string elements.
// Anything that isn't array-shaped becomes an empty list.
func stringList(raw json.RawMessage) []string {
	out := []string{}
	if raw == nil {
		return out
	}
	var items []any
	if err := json.Unmarshal(raw, &items); err != nil {
		return out
	}
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// scalarMap decodes a JSON object keeping only scalar-or-null values.
// Nested objects and arrays from the oracle are dropped rather than stored
// as opaque blobs.
func scalarMap(raw json.RawMessage) map[string]any {
	out := map[string]any{}
	if raw == nil {
		return out
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return out
	}
	for k, v := range m {
		switch v.(type) {
		case string, float64, bool, nil:
			out[k] = v
		default:
			slog.Debug("dropping non-scalar structured field", "key", k)
		}
	}
	return out
}

func clamp(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
