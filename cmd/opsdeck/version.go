package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ternarybob/opsdeck/internal/common"
)

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "OpsDeck version %s\n", common.GetFullVersion())
		},
	}
}
