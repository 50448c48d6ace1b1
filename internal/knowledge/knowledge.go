// Package knowledge provides keyword retrieval over a local document
// directory. Documents are plain-text (.txt) or markdown (.md) files;
// search is a simple term-frequency score, not a ranking model.
package knowledge

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DefaultMaxResults is the number of documents returned when the caller
// does not ask for a specific count.
const DefaultMaxResults = 3

// maxSnippetLen caps how much of a single document is folded into the
// formatted result block handed back to the model.
const maxSnippetLen = 1000

// NoResultsMessage is the sentinel returned when nothing matched.
const NoResultsMessage = "No relevant documents found in the knowledge base."

// Result is one scored document.
type Result struct {
	Source  string  `json:"source"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// Service reads and searches the knowledge directory.
type Service struct {
	dir    string
	logger *slog.Logger
}

// NewService creates a knowledge service rooted at dir.
func NewService(dir string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{dir: dir, logger: logger}
}

// ListDocuments returns the names of all knowledge files, sorted.
func (s *Service) ListDocuments() []string {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch filepath.Ext(e.Name()) {
		case ".txt", ".md":
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names
}

// ReadDocument returns the plain-text content of one document.
// Markdown files are reduced to their text content before return.
func (s *Service) ReadDocument(name string) (string, error) {
	path := filepath.Join(s.dir, name)

	// Reject anything that escapes the knowledge directory.
	absDir, err := filepath.Abs(s.dir)
	if err != nil {
		return "", err
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	if absPath != absDir && !strings.HasPrefix(absPath, absDir+string(filepath.Separator)) {
		return "", fmt.Errorf("document %q is outside the knowledge directory", name)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}

	if filepath.Ext(name) == ".md" {
		return markdownText(data), nil
	}
	return string(data), nil
}

// Search scores every document against the query and returns the top
// maxResults matches, best first. Scoring: +10 for each query word that
// appears in the filename, +1 for every occurrence in the content.
// maxResults <= 0 falls back to [DefaultMaxResults].
func (s *Service) Search(query string, maxResults int) []Result {
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}
	queryWords := strings.Fields(strings.ToLower(query))
	if len(queryWords) == 0 {
		return nil
	}

	var results []Result
	for _, name := range s.ListDocuments() {
		content, err := s.ReadDocument(name)
		if err != nil {
			s.logger.Warn("skipping unreadable document", "name", name, "error", err)
			continue
		}

		nameLower := strings.ToLower(name)
		contentLower := strings.ToLower(content)

		var score float64
		for _, word := range queryWords {
			if strings.Contains(nameLower, word) {
				score += 10
			}
			score += float64(strings.Count(contentLower, word))
		}

		if score > 0 {
			results = append(results, Result{
				Source:  name,
				Content: content,
				Score:   score,
			})
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > maxResults {
		results = results[:maxResults]
	}
	return results
}

// FormatResults collapses search results into one text block for the
// model. Individual documents are truncated to keep the prompt bounded.
// An empty result set yields [NoResultsMessage].
func FormatResults(results []Result) string {
	if len(results) == 0 {
		return NoResultsMessage
	}

	blocks := make([]string, 0, len(results))
	for _, r := range results {
		content := r.Content
		if len(content) > maxSnippetLen {
			content = content[:maxSnippetLen] + "..."
		}
		blocks = append(blocks, fmt.Sprintf("=== %s ===\n%s", r.Source, content))
	}
	return strings.Join(blocks, "\n\n")
}
