// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Codelens Contributors

package backend

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSystemPromptSelection(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  string
	}{
		{"debug keyword", "help me debug the cache layer", debuggingTemplate},
		{"error keyword", "why does this error happen", debuggingTemplate},
		{"bug keyword", "there is a Bug in the parser", debuggingTemplate},
		{"architecture keyword", "explain the architecture here", architectureTemplate},
		{"design keyword", "what design is this", architectureTemplate},
		{"pattern keyword", "which Pattern does this use", architectureTemplate},
		{"debug wins over architecture", "debug the architecture module", debuggingTemplate},
		{"no keyword", "what does this function return", defaultTemplate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SystemPrompt(tt.query))
		})
	}
}

func TestBuildUserMessageOrdersBySimilarity(t *testing.T) {
	results := []SearchResult{
		{FilePath: "low.go", NodeType: "function", Similarity: 0.42, SourceText: "func low() {}"},
		{FilePath: "high.go", NodeType: "function", Similarity: 0.91, SourceText: "func high() {}"},
		{FilePath: "mid.go", NodeType: "function", Similarity: 0.67, SourceText: "func mid() {}"},
	}

	msg := BuildUserMessage("what do these do", results)

	hi := strings.Index(msg, "high.go")
	mid := strings.Index(msg, "mid.go")
	lo := strings.Index(msg, "low.go")
	require.NotEqual(t, -1, hi)
	require.NotEqual(t, -1, mid)
	require.NotEqual(t, -1, lo)
	assert.Less(t, hi, mid)
	assert.Less(t, mid, lo)

	assert.True(t, strings.HasPrefix(msg, "Query: what do these do"))
	// Input order is untouched.
	assert.Equal(t, "low.go", results[0].FilePath)
}

func TestBuildUserMessageTruncatesOverflowEntry(t *testing.T) {
	big := strings.Repeat("x", 3000)
	results := []SearchResult{
		{FilePath: "a.go", NodeType: "function", Similarity: 0.9, SourceText: big},
		{FilePath: "b.go", NodeType: "function", Similarity: 0.8, SourceText: big},
		{FilePath: "c.go", NodeType: "function", Similarity: 0.7, SourceText: big},
		{FilePath: "d.go", NodeType: "function", Similarity: 0.6, SourceText: big},
	}

	msg := BuildUserMessage("explain", results)

	assert.LessOrEqual(t, len(msg), ContextBudget)
	assert.Contains(t, msg, "a.go")
	assert.Contains(t, msg, "b.go")
	// The third entry is truncated rather than silently dropped.
	assert.Contains(t, msg, "c.go")
	assert.Contains(t, msg, TruncationMarker)
	// Entries after the truncated one are dropped.
	assert.NotContains(t, msg, "d.go")
}

func TestBuildUserMessageDropsEntryWhenSpaceTooSmall(t *testing.T) {
	// First entry nearly fills the budget so the remainder is under the
	// minimum useful truncation space.
	results := []SearchResult{
		{FilePath: "big.go", NodeType: "function", Similarity: 0.9, SourceText: strings.Repeat("x", 7800)},
		{FilePath: "small.go", NodeType: "function", Similarity: 0.8, SourceText: strings.Repeat("y", 300)},
	}

	msg := BuildUserMessage("explain", results)

	assert.LessOrEqual(t, len(msg), ContextBudget)
	assert.Contains(t, msg, "big.go")
	assert.NotContains(t, msg, "small.go")
	assert.NotContains(t, msg, TruncationMarker)
}

func TestBuildUserMessageEmptyResults(t *testing.T) {
	msg := BuildUserMessage("explain", nil)

	assert.Equal(t, "Query: explain\n\nCode search results:\n", msg)
}
