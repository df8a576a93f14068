// Package cli defines the callbridge call client commands.
package cli

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "callbridge",
	Short: "Join video calls brokered by the callbridge signaling gateway",
	Long: `callbridge is the terminal client for the video-call feature of the
quotewise CRM. It connects to the signaling gateway, joins a call room and
negotiates direct media connections with every other participant.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
