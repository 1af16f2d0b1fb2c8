package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/starschema/internal/cli/output"
	intconfig "github.com/leapstack-labs/starschema/internal/config"
)

// NewInitCommand creates the init command.
func NewInitCommand() *cobra.Command {
	var force bool
	var example bool

	cmd := &cobra.Command{
		Use:   "init [directory]",
		Short: "Initialize a new starschema project",
		Long: `Initialize a new starschema project with a starter configuration.

This creates:
  - starschema.yaml configuration file
  - .gitignore for the output and state directories

Use --example to also add a small sample of retail transactions under
data/, ready for 'starschema run'.`,
		Example: `  # Initialize in current directory
  starschema init

  # Initialize with sample data
  starschema init --example

  # Initialize in a new directory
  starschema init my-project --example

  # Force overwrite existing config
  starschema init --force`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}

			cmdCtx := NewCommandContextWithoutEngine(cmd)
			template := "minimal"
			if example {
				template = "example"
			}
			return runInit(cmdCtx.Renderer, dir, template, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing configuration")
	cmd.Flags().BoolVar(&example, "example", false, "Include sample retail transactions")

	return cmd
}

func runInit(r *output.Renderer, dir, template string, force bool) error {
	if dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	configPath := filepath.Join(dir, intconfig.ConfigFileName)
	if _, err := os.Stat(configPath); err == nil && !force {
		return fmt.Errorf("%s already exists. Use --force to overwrite", intconfig.ConfigFileName)
	}

	if err := copyTemplate(template, dir, force); err != nil {
		return fmt.Errorf("failed to initialize project: %w", err)
	}

	files, _ := listTemplateFiles(template)
	groups := groupTemplateFiles(files)

	r.Header(2, "Configuration")
	for _, f := range groups["config"] {
		r.StatusLine(f, "success", "")
	}
	if len(groups["data"]) > 0 {
		r.Println("")
		r.Header(2, "Data")
		for _, f := range groups["data"] {
			r.StatusLine(f, "success", "")
		}
	}

	r.Println("")
	r.Success("starschema project initialized!")
	r.Println("")
	r.Println("Next steps:")
	if len(groups["data"]) == 0 {
		r.Println("  1. Set 'input' in " + intconfig.ConfigFileName + " to your transactions CSV")
		r.Println("  2. Run 'starschema run' to build the star schema")
		r.Println("  3. Run 'starschema summary' to see sales totals")
		return nil
	}
	r.Println("  starschema run      Normalize the sample and export the star schema")
	r.Println("  starschema tables   List the output tables")
	r.Println("  starschema summary  Show sales by category, product and month")
	return nil
}
