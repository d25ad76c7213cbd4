package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/openfroyo/froyovm/pkg/exitcode"
)

type exitCodeView struct {
	Code   uint32 `json:"code"`
	Name   string `json:"name"`
	System bool   `json:"system"`
}

func newExitCodesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "exitcodes",
		Short: "List the named exit codes",
		Long: `List every named exit code in ascending order.

System codes are reserved to the kernel. An actor aborting with one of them
is reported as SysErrIllegalActor instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			codes := exitcode.All()
			views := make([]exitCodeView, len(codes))
			for i, code := range codes {
				views[i] = exitCodeView{Code: uint32(code), Name: exitcode.Name(code), System: exitcode.IsSystem(code)}
			}

			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), views)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "CODE\tNAME\tSYSTEM")
			for _, v := range views {
				fmt.Fprintf(tw, "%d\t%s\t%t\n", v.Code, v.Name, v.System)
			}
			return tw.Flush()
		},
	}
}
