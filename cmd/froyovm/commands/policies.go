package commands

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/froyovm/pkg/policy"
)

func newPoliciesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policies",
		Short: "Inspect module admission policies",
		Long: `Inspect the Rego policies a module must pass before it is invoked.

The built-in policies are always loaded. Further policies come from the
paths listed under policy.paths in the config.`,
	}

	cmd.AddCommand(newPoliciesListCommand())
	cmd.AddCommand(newPoliciesCheckCommand())

	return cmd
}

func newPoliciesListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the loaded policies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			engine, err := cfg.Policy.Engine(cmd.Context(), log.Logger)
			if err != nil {
				return err
			}

			policies := engine.ListPolicies()
			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), policies)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tSEVERITY\tENABLED\tDESCRIPTION")
			for _, p := range policies {
				fmt.Fprintf(tw, "%s\t%s\t%t\t%s\n", p.Name, p.Severity, p.Enabled, p.Description)
			}
			return tw.Flush()
		},
	}
}

func newPoliciesCheckCommand() *cobra.Command {
	var entry string

	cmd := &cobra.Command{
		Use:   "check <module.wasm>",
		Short: "Evaluate the policies against a module without invoking it",
		Example: `  # Check a module against the built-in and configured policies
  froyovm policies check actor.wasm --config froyovm.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if entry == "" {
				entry = cfg.Machine.Entry
			}
			engine, err := cfg.Policy.Engine(cmd.Context(), log.Logger)
			if err != nil {
				return err
			}

			// The session only compiles, so it never needs admission.
			cfg.Policy.Enabled = false
			s, err := openSession(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			mod, err := s.compile(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			decision, err := engine.Evaluate(cmd.Context(), s.machine.Describe(mod, entry))
			if err != nil {
				return err
			}

			if err := printDecision(cmd, decision); err != nil {
				return err
			}
			if !decision.Allowed {
				return fmt.Errorf("module %s violates %d polic%s", mod.Name(), len(decision.Violations), plural(len(decision.Violations), "y", "ies"))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&entry, "entry", "e", "", "exported function the invocation would call (default from config)")

	return cmd
}

func printDecision(cmd *cobra.Command, d *policy.Decision) error {
	w := cmd.OutOrStdout()
	if jsonOutput {
		return writeJSON(w, d)
	}

	verdict := "allowed"
	if !d.Allowed {
		verdict = "denied"
	}
	fmt.Fprintf(w, "decision:  %s\n", verdict)
	fmt.Fprintf(w, "evaluated: %s\n", strings.Join(d.EvaluatedPolicies, ", "))
	for _, v := range d.Violations {
		fmt.Fprintf(w, "  violation: %s\n", v)
	}
	for _, v := range d.Warnings {
		fmt.Fprintf(w, "  warning:   %s\n", v)
	}
	return nil
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
