package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "routerctl",
		Short: "Drive and observe a dataroute Router from outside a Go program",
		Long: `routerctl is a debugging and demo tool for the dataroute router core.

It runs a small sample route tree inside a Router and exposes it over HTTP
and WebSocket so a navigation/fetch cycle can be driven and observed without
embedding the router in an application:

  • GET  /state     current Snapshot, as JSON
  • POST /navigate   drive a navigation cycle
  • POST /fetch      drive an out-of-band fetcher
  • GET  /ws         stream every committed Snapshot as JSON

This does not render a UI; it observes router state.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(serveCmd(), versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the routerctl version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("routerctl dev")
			return nil
		},
	}
}
