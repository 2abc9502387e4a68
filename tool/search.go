package tool

import (
	"context"
	"encoding/json"
	"strings"
)

// SearchHit is one result returned by the retrieval engine.
type SearchHit struct {
	DocumentID string  `json:"document_id"`
	Title      string  `json:"title"`
	Snippet    string  `json:"snippet"`
	Score      float64 `json:"score"`
}

// Retriever is the external retrieval engine (lexical + vector search,
// ranking fusion, reranking) invoked as a tool. Its implementation lives
// outside the orchestration core.
type Retriever interface {
	Search(ctx context.Context, query string, limit int) ([]SearchHit, error)
}

// searchTool exposes the retrieval engine to agents as a callable tool.
type searchTool struct {
	retriever Retriever
	limit     int
}

// NewSearchTool constructs the search tool over the given retriever. limit
// caps hits per call (default 5 when <= 0).
func NewSearchTool(retriever Retriever, limit int) Tool {
	if limit <= 0 {
		limit = 5
	}
	return &searchTool{retriever: retriever, limit: limit}
}

func (t *searchTool) Name() string { return "search" }

func (t *searchTool) Description() string {
	return "Search the project's source material for passages relevant to a query. Use before making factual claims about the material."
}

func (t *searchTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{"type": "string", "description": "Search query"},
		},
		"required": []string{"query"},
	}
}

func (t *searchTool) Call(tc *Context, args map[string]any) (any, error) {
	query, err := StringArg(args, "query")
	if err != nil {
		return nil, err
	}
	hits, err := t.retriever.Search(tc.Ctx, query, t.limit)
	if err != nil {
		return nil, NewError(t.Name(), err.Error(), "RETRIEVAL_ERROR")
	}
	out, err := json.Marshal(hits)
	if err != nil {
		return nil, err
	}
	return string(out), nil
}

// StaticRetriever is an in-memory Retriever over a fixed document set. It
// backs tests and local development; production wiring injects the real
// retrieval engine.
type StaticRetriever struct {
	Docs []SearchHit
}

// Search returns documents whose title or snippet contains the query,
// case-insensitively, up to limit hits.
func (r *StaticRetriever) Search(_ context.Context, query string, limit int) ([]SearchHit, error) {
	q := strings.ToLower(query)
	var hits []SearchHit
	for _, d := range r.Docs {
		if strings.Contains(strings.ToLower(d.Title), q) || strings.Contains(strings.ToLower(d.Snippet), q) {
			hits = append(hits, d)
			if len(hits) >= limit {
				break
			}
		}
	}
	return hits, nil
}
