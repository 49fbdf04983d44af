// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Codelens Contributors

package backend

import (
	"strings"
)

// ValidateRequest checks the caller-supplied inputs shared by every
// backend variant. Violations are configuration errors: they are caller
// mistakes, never retried.
func ValidateRequest(query string, results []SearchResult) error {
	if strings.TrimSpace(query) == "" {
		return NewError(KindConfiguration, "query must not be empty")
	}

	for i, r := range results {
		if r.FilePath == "" {
			return Errf(KindConfiguration, "results[%d]: file_path must not be empty", i)
		}
		if r.SourceText == "" {
			return Errf(KindConfiguration, "results[%d]: source_text must not be empty", i)
		}
	}

	return nil
}

// CapResults limits results to max entries. A max of zero or less keeps
// everything.
func CapResults(results []SearchResult, max int) []SearchResult {
	if max <= 0 || len(results) <= max {
		return results
	}
	return results[:max]
}
