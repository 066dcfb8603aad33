package engine

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/scrypster/chatmem/pkg/types"
)

const (
	// recencyHalfLifeDays is the number of days for the recency score to
	// halve. At 60 days a memory sits at 0.5; at 120 days, 0.25.
	recencyHalfLifeDays = 60.0

	// Weights of the relevance components.
	textMatchWeight = 0.7
	recencyWeight   = 0.3

	defaultSearchLimit = 10
	maxSearchLimit     = 100
)

// SearchOptions configures memory search.
type SearchOptions struct {
	// Query is the search query string. An empty query matches everything.
	Query string

	// Limit is the maximum number of results to return (default 10, max 100).
	Limit int

	// MinScore is the minimum relevance score (0.0 to 1.0).
	MinScore float64
}

// SearchResult is a memory with its relevance score.
type SearchResult struct {
	Memory     types.Memory    `json:"memory"`
	Score      float64         `json:"score"`
	Reason     string          `json:"reason"`
	Components ScoreComponents `json:"components"`
}

// ScoreComponents breaks down a relevance score.
type ScoreComponents struct {
	// TextMatch is the share of the query found in the content (0.0 to 1.0).
	TextMatch float64 `json:"text_match"`

	// Recency decays with the time since the memory last changed (0.0 to 1.0).
	Recency float64 `json:"recency"`
}

// SearchMemories ranks the memories of scope against a query. Results are
// ordered by score; ties keep the store's list order.
func (e *Engine) SearchMemories(ctx context.Context, scope string, opts SearchOptions) ([]SearchResult, error) {
	if opts.Limit <= 0 {
		opts.Limit = defaultSearchLimit
	}
	if opts.Limit > maxSearchLimit {
		opts.Limit = maxSearchLimit
	}

	ws, ok := e.workspaces.lookup(scope)
	if !ok {
		return []SearchResult{}, nil
	}
	memories, err := ws.memories.List(ctx)
	if err != nil {
		return nil, err
	}

	queryLower := strings.ToLower(strings.TrimSpace(opts.Query))
	now := time.Now()

	results := make([]SearchResult, 0, len(memories))
	for _, m := range memories {
		components := ScoreComponents{
			TextMatch: textMatch(m.Content, queryLower),
			Recency:   recency(m.UpdatedAt, now),
		}
		if queryLower != "" && components.TextMatch == 0 {
			continue
		}

		score := components.TextMatch*textMatchWeight + components.Recency*recencyWeight
		if score < opts.MinScore {
			continue
		}

		results = append(results, SearchResult{
			Memory:     m,
			Score:      score,
			Reason:     buildReason(components),
			Components: components,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

// textMatch returns 1.0 for a phrase match, otherwise the fraction of query
// words found in content.
func textMatch(content, queryLower string) float64 {
	if queryLower == "" {
		return 1.0
	}

	contentLower := strings.ToLower(content)
	if strings.Contains(contentLower, queryLower) {
		return 1.0
	}

	words := strings.Fields(queryLower)
	matched := 0
	for _, word := range words {
		if strings.Contains(contentLower, word) {
			matched++
		}
	}
	if len(words) == 0 {
		return 0
	}
	return float64(matched) / float64(len(words))
}

// recency halves every recencyHalfLifeDays since updatedAt.
func recency(updatedAt, now time.Time) float64 {
	if updatedAt.IsZero() {
		return 0
	}
	days := now.Sub(updatedAt).Hours() / 24.0
	if days < 0 {
		days = 0
	}
	return math.Min(math.Pow(2, -days/recencyHalfLifeDays), 1.0)
}

func buildReason(components ScoreComponents) string {
	var reasons []string

	if components.TextMatch > 0.8 {
		reasons = append(reasons, "strong text match")
	} else if components.TextMatch > 0.5 {
		reasons = append(reasons, "partial text match")
	}

	if components.Recency > 0.8 {
		reasons = append(reasons, "recent")
	}

	if len(reasons) == 0 {
		return "matched content"
	}
	return strings.Join(reasons, ", ")
}
