package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/conneroisu/promptweave/internal/config"
)

// validateCmd checks that every definition parses and compiles.
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check that every prompt parses and compiles",
	Long: `Validate loads every configured location, reports files that failed to
parse, and reports prompts whose templates failed to compile. The command
exits non-zero when any problem is found.`,
	RunE: runValidateCommand,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidateCommand(cmd *cobra.Command, args []string) error {
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

	problems := 0

	loadErrors := mgr.LoadErrors()
	resources := make([]string, 0, len(loadErrors))
	for resource := range loadErrors {
		resources = append(resources, resource)
	}
	sort.Strings(resources)
	for _, resource := range resources {
		fmt.Fprintf(cmd.OutOrStdout(), "FAIL %s: %v\n", resource, loadErrors[resource])
		problems++
	}

	// Every prompt that compiled cleanly at startup is in the cache, so a
	// defined name missing from it indicates a compile failure.
	cached := make(map[string]struct{})
	for _, name := range mgr.CachedNames() {
		cached[name] = struct{}{}
	}
	defined := mgr.DefinedNames()
	sort.Strings(defined)
	for _, name := range defined {
		if _, ok := cached[name]; !ok {
			fmt.Fprintf(cmd.OutOrStdout(), "FAIL %s: template does not compile\n", name)
			problems++
		}
	}

	if problems > 0 {
		return fmt.Errorf("%d problem(s) found", problems)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "OK %d prompt(s)\n", len(defined))
	return nil
}
