package tools

import (
	"context"
	"fmt"

	"github.com/nugget/qna-agent/internal/knowledge"
)

// SearchToolName is the name the LLM uses to invoke knowledge search.
const SearchToolName = "search_knowledge_base"

// RegisterSearch wires the knowledge base search tool into the
// registry.
func RegisterSearch(r *Registry, kb *knowledge.Service) {
	r.Register(&Tool{
		Name:        SearchToolName,
		Description: "Search the knowledge base for documents relevant to a query. Returns the most relevant document excerpts.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "The search query",
				},
			},
			"required": []string{"query"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			query, _ := args["query"].(string)
			if query == "" {
				return "", fmt.Errorf("missing required argument: query")
			}

			results := kb.Search(query, knowledge.DefaultMaxResults)
			return knowledge.FormatResults(results), nil
		},
	})
}
