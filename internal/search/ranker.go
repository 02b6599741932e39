// Package search ranks stored memories against a query. The oracle
// provides semantic ranking; substring matching covers oracle failure.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/memobank/memobank/internal/oracle"
	"github.com/memobank/memobank/internal/storage"
)

const systemPrompt = `You are a semantic search assistant. Given a search query and a list of memories,
rank the memories by relevance to the query. Consider semantic meaning, not just keyword matching.

Return a JSON object of the form {"relevantIds": [...]} where relevantIds is an array of
memory IDs sorted by relevance (most relevant first).
Only include memories that are actually relevant to the query.`

// projection is the minimized candidate view sent to the oracle.
type projection struct {
	ID       int64    `json:"id"`
	Title    string   `json:"title"`
	Content  string   `json:"content"`
	Keywords []string `json:"keywords"`
	Tags     []string `json:"tags"`
}

// Ranker orders candidate memories by relevance to a query.
type Ranker struct {
	oracle oracle.Client
}

func New(client oracle.Client) *Ranker {
	return &Ranker{oracle: client}
}

// Rank returns the subsequence of candidates the oracle deems relevant, in
// oracle order (a filter, not a full reorder). An empty id list from the
// oracle is a valid "nothing relevant" answer. On any oracle failure the
// substring fallback runs instead, preserving candidate order. Rank never
// fails.
func (r *Ranker) Rank(ctx context.Context, query string, candidates []storage.Memory) []storage.Memory {
	if len(candidates) == 0 {
		return []storage.Memory{}
	}

	ids, err := r.rankIDs(ctx, query, candidates)
	if err != nil {
		slog.Warn("semantic search failed, using substring fallback", "error", err)
		return localFilter(query, candidates)
	}

	byID := make(map[int64]storage.Memory, len(candidates))
	for _, m := range candidates {
		byID[m.ID] = m
	}
	out := make([]storage.Memory, 0, len(ids))
	for _, id := range ids {
		if m, ok := byID[id]; ok {
			out = append(out, m)
			delete(byID, id) // an id repeated by the oracle counts once
		}
	}
	return out
}

func (r *Ranker) rankIDs(ctx context.Context, query string, candidates []storage.Memory) ([]int64, error) {
	projected := make([]projection, len(candidates))
	for i, m := range candidates {
		projected[i] = projection{
			ID:       m.ID,
			Title:    m.Title,
			Content:  m.Content,
			Keywords: m.Keywords,
			Tags:     m.Tags,
		}
	}

	payload, err := json.Marshal(projected)
	if err != nil {
		return nil, fmt.Errorf("marshalling candidates: %w", err)
	}
	user := fmt.Sprintf("Search query: %q\n\nMemories: %s", query, payload)

	raw, err := r.oracle.CompleteJSON(ctx, systemPrompt, user)
	if err != nil {
		return nil, err
	}

	obj, ok := oracle.ExtractJSONObject(raw)
	if !ok {
		return nil, fmt.Errorf("no JSON object in reply")
	}
	var reply struct {
		RelevantIDs []int64 `json:"relevantIds"`
	}
	if err := json.Unmarshal([]byte(obj), &reply); err != nil {
		return nil, fmt.Errorf("unmarshalling reply: %w", err)
	}
	if reply.RelevantIDs == nil {
		reply.RelevantIDs = []int64{}
	}
	return reply.RelevantIDs, nil
}

// localFilter is the deterministic fallback: case-insensitive substring
// match over title, content, keywords, and tags, preserving the incoming
// candidate order.
func localFilter(query string, candidates []storage.Memory) []storage.Memory {
	out := make([]storage.Memory, 0, len(candidates))
	for _, m := range candidates {
		if m.MatchesQuery(query) {
			out = append(out, m)
		}
	}
	return out
}
