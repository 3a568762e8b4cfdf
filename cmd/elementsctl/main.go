// elementsctl drives a running elementsd over its HTTP API.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "elementsctl",
		Short:         "Elements wagering client",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().String("addr", "http://127.0.0.1:8095", "elementsd address")
	cmd.PersistentFlags().String("token", os.Getenv("ELEMENTS_TOKEN"), "bearer token for the API")

	cmd.AddCommand(
		statusCmd(),
		sessionCmd("connect", "Request wallet access and open a session"),
		sessionCmd("reconnect", "Resume a session the wallet already granted"),
		sessionCmd("switch-network", "Ask the wallet to switch to the configured network"),
		sessionCmd("retry", "Clear a failed session and connect again"),
		sessionCmd("disconnect", "Drop the current session"),
		gamesCmd(),
		statsCmd(),
		leaderboardCmd(),
		rewardPoolCmd(),
		refreshCmd(),
	)
	return cmd
}
