package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/conneroisu/promptweave/internal/config"
)

var renderVars []string

// renderCmd renders one prompt to stdout.
var renderCmd = &cobra.Command{
	Use:   "render <prompt>",
	Short: "Render a prompt with the given variables",
	Long: `Render compiles the named prompt (and any partials it references) and
substitutes the supplied variables.

Examples:
  promptweave render greeting --var name=Ada
  promptweave render summary --var topic=go --var style=terse`,
	Args: cobra.ExactArgs(1),
	RunE: runRenderCommand,
}

func init() {
	rootCmd.AddCommand(renderCmd)
	renderCmd.Flags().StringArrayVar(&renderVars, "var", nil, "template variable as key=value (repeatable)")
}

func runRenderCommand(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	variables, err := parseVars(renderVars)
	if err != nil {
		return err
	}

	logger := newLogger(cfg)
	mgr, err := newManager(cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = mgr.Close() }()

	text, err := mgr.Render(args[0], variables)
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), text)
	return nil
}

// parseVars converts repeated key=value flags into a variable map.
func parseVars(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	variables := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --var %q, want key=value", pair)
		}
		variables[key] = value
	}
	return variables, nil
}
