package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "chatclient",
	Short: "Terminal client for the companion chat server",
	Long: `chatclient connects to a companion chat server over Socket.IO,
joins a companion's room and streams replies to the terminal.

Settings are read from the environment (and a .env file) and can be
overridden with flags.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(chatCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
