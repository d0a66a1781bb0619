package cmd

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/conneroisu/promptweave/internal/config"
)

var listFormat string

// listCmd lists every prompt defined across the configured locations.
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List defined prompts",
	Long: `List loads every configured location and prints the prompt names it
finds, with model metadata when present.

Examples:
  promptweave list
  promptweave list --format json`,
	RunE: runListCommand,
}

func init() {
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().StringVarP(&listFormat, "format", "f", "text", "output format (text, json)")
}

type listEntry struct {
	Name        string `json:"name"`
	Model       string `json:"model,omitempty"`
	Description string `json:"description,omitempty"`
}

func runListCommand(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := newLogger(cfg)
	mgr, err := newManager(cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = mgr.Close() }()

	names := mgr.CachedNames()
	sort.Strings(names)

	entries := make([]listEntry, 0, len(names))
	for _, name := range names {
		entry := listEntry{Name: name}
		if meta, ok := mgr.Meta(name); ok {
			entry.Model = meta.Model
			entry.Description = meta.Description
		}
		entries = append(entries, entry)
	}

	switch listFormat {
	case "json":
		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		return encoder.Encode(entries)
	case "text":
		if len(entries) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no prompts found")
			return nil
		}
		for _, entry := range entries {
			line := entry.Name
			if entry.Model != "" {
				line += "  [" + entry.Model + "]"
			}
			if entry.Description != "" {
				line += "  " + entry.Description
			}
			fmt.Fprintln(cmd.OutOrStdout(), line)
		}
		return nil
	default:
		return fmt.Errorf("unsupported format: %s (supported: text, json)", listFormat)
	}
}
