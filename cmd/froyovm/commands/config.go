package commands

import (
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newConfigCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long: `Load the configuration named by --config, apply the defaults and print the
result. Validation errors are reported with their source position.`,
		Example: `  # Show the defaults
  froyovm config

  # Check a CUE configuration
  froyovm config --config froyovm.cue --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			out, err := cfg.YAML()
			if err != nil {
				return err
			}

			if jsonOutput {
				// Go through the YAML form so durations stay readable.
				var doc map[string]interface{}
				if err := yaml.Unmarshal(out, &doc); err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), doc)
			}

			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}
