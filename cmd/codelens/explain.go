// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Codelens Contributors

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/codelens-dev/codelens/internal/backend"
	clerr "github.com/codelens-dev/codelens/pkg/errors"
)

func newExplainCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "explain <query>",
		Short: "Explain code search results from the command line",
		Long:  "One-shot explanation: reads search results as JSON from --results (or stdin), routes the query through the configured backends, and prints the explanation.",
		Args:  cobra.ExactArgs(1),
		RunE:  runExplain,
	}

	cmd.Flags().String("results", "", "path to a JSON file of search results (default: stdin)")
	cmd.Flags().String("model", "", "model override")
	cmd.Flags().Bool("json", false, "print the full result as JSON")

	return cmd
}

func runExplain(cmd *cobra.Command, args []string) error {
	query := args[0]

	results, err := readResults(cmd)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	app, err := WireApp(cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	// One-shot runs have no probe loop; validate the backends once so
	// their availability gates open before routing.
	app.Manager.Probe(cmd.Context())

	model, _ := cmd.Flags().GetString("model")

	result, err := app.Manager.Explain(cmd.Context(), query, results, backend.Options{Model: model})
	if err != nil {
		return clerr.Wrap(err, clerr.CodeCLIRequestFailure, "explaining query")
	}

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	_, err = fmt.Fprintln(cmd.OutOrStdout(), result.Explanation)
	return err
}

// readResults loads the search results from --results or stdin.
func readResults(cmd *cobra.Command) ([]backend.SearchResult, error) {
	var raw []byte
	var err error

	if path, _ := cmd.Flags().GetString("results"); path != "" {
		raw, err = os.ReadFile(path)
		if err != nil {
			return nil, clerr.Wrapf(err, clerr.CodeCLIInputInvalid, "reading results file %s", path)
		}
	} else {
		raw, err = io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, clerr.Wrap(err, clerr.CodeCLIInputInvalid, "reading results from stdin")
		}
	}

	var results []backend.SearchResult
	if err := json.Unmarshal(raw, &results); err != nil {
		return nil, clerr.Wrap(err, clerr.CodeCLIInputInvalid, "parsing search results JSON")
	}
	return results, nil
}
