// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Codelens Contributors

package backend

import (
	"fmt"
	"sort"
	"strings"
)

// ContextBudget is the maximum size in characters of the assembled user
// message. The entry that would overflow the budget is truncated with an
// explicit marker rather than dropped silently, provided at least
// minTruncateSpace characters remain.
const (
	ContextBudget    = 8000
	minTruncateSpace = 200
	TruncationMarker = "... [truncated]"
)

const debuggingTemplate = `You are a senior engineer helping debug a codebase. ` +
	`Explain what the following code does, focusing on failure modes, error paths, ` +
	`and the likely cause of the problem described in the query. Reference files by path.`

const architectureTemplate = `You are a software architect reviewing a codebase. ` +
	`Explain how the following code fits together: the components involved, their ` +
	`responsibilities, and the design patterns in use. Reference files by path.`

const defaultTemplate = `You are an expert developer explaining a codebase. ` +
	`Explain what the following code does and how the pieces relate to the query. ` +
	`Be concrete and reference files by path.`

// SystemPrompt selects a system template by keyword match on the query.
// Debugging keywords are checked first, then architecture; first match wins.
func SystemPrompt(query string) string {
	q := strings.ToLower(query)

	for _, kw := range []string{"debug", "error", "bug"} {
		if strings.Contains(q, kw) {
			return debuggingTemplate
		}
	}
	for _, kw := range []string{"architecture", "design", "pattern"} {
		if strings.Contains(q, kw) {
			return architectureTemplate
		}
	}
	return defaultTemplate
}

// BuildUserMessage assembles the user message: the query followed by result
// blocks in descending similarity order, bounded by ContextBudget.
func BuildUserMessage(query string, results []SearchResult) string {
	sorted := make([]SearchResult, len(results))
	copy(sorted, results)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Similarity > sorted[j].Similarity
	})

	var b strings.Builder
	b.WriteString("Query: ")
	b.WriteString(query)
	b.WriteString("\n\nCode search results:\n")

	for _, r := range sorted {
		block := formatResult(r)

		if b.Len()+len(block) <= ContextBudget {
			b.WriteString(block)
			continue
		}

		// The block overflows. Truncate its source to the remaining space
		// instead of dropping it, if enough room is left to be useful.
		remaining := ContextBudget - b.Len()
		if remaining < minTruncateSpace {
			break
		}

		head := formatResultHead(r)
		tail := "\n```\n"
		avail := remaining - len(head) - len(tail) - len(TruncationMarker)
		if avail < 0 {
			break
		}

		src := r.SourceText
		if len(src) > avail {
			src = src[:avail]
		}
		b.WriteString(head)
		b.WriteString(src)
		b.WriteString(TruncationMarker)
		b.WriteString(tail)
		break
	}

	return b.String()
}

func formatResult(r SearchResult) string {
	return formatResultHead(r) + r.SourceText + "\n```\n"
}

func formatResultHead(r SearchResult) string {
	return fmt.Sprintf("\nFile: %s (%s, similarity %.0f%%)\n```\n",
		r.FilePath, r.NodeType, r.Similarity*100)
}
