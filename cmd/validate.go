package cmd

import (
	"fmt"
	"os"

	"github.com/initializ/dockflow/config"
	"github.com/initializ/dockflow/validate"
	"github.com/spf13/cobra"
)

var strict bool

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the project file",
	RunE:  runValidate,
}

func init() {
	validateCmd.Flags().BoolVar(&strict, "strict", false, "treat warnings as errors")
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfgPath, err := config.Resolve(cfgFile)
	if err != nil {
		return err
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	result := validate.ValidateConfig(cfg)
	for _, e := range result.Errors {
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", e)
	}
	for _, w := range result.Warnings {
		fmt.Fprintf(os.Stderr, "WARNING: %s\n", w)
	}

	if !result.IsValid() {
		return fmt.Errorf("validation failed: %d error(s)", len(result.Errors))
	}
	if strict && len(result.Warnings) > 0 {
		return fmt.Errorf("validation failed (strict): %d warning(s)", len(result.Warnings))
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s is valid (%d pipeline(s))\n", cfgPath, len(cfg.Pipelines))
	return nil
}
