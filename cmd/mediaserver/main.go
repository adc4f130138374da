// The mediaserver command runs the RTMP, WebSocket and HTTP servers of the media
// server, plus a few tools for inspecting the session journal.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var ConfigFlag string

func main() {
	rootCmd := &cobra.Command{
		Use:           "mediaserver",
		Short:         "Multi-protocol media server (RTMP, WebSocket, HTTP-FLV)",
		RunE:          ServerCommand,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&ConfigFlag, "config", "c", "./", "Path to the directory containing the server config file")

	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsListCmd.Flags().StringVarP(&ServerFlag, "server", "s", "", "Only list sessions of this server (e.g. RTMP)")
	sessionsListCmd.Flags().BoolVar(&AllFlag, "all", false, "Include sessions that already closed")
	rootCmd.AddCommand(sessionsCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
