// Command buildgraph reads a declarative build-graph script, selects the
// subgraph for a requested target, and either prints, exports, or executes
// it.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	cmd := rootCommand()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "buildgraph",
		Short: "Declarative build-graph orchestration",
		Long:  "buildgraph --script=<path> --target=<list> [options]",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts)
		},
	}
	bindFlags(cmd, opts)
	return cmd
}
