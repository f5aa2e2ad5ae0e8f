// Command server runs the doubtline realtime layer and its companion tools.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version    = "dev"
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "doubtline",
	Short: "Realtime rooms, typing presence and live event push",
	Long: `doubtline serves doubt-resolution chat rooms over websockets and pushes
application events (quiz completions, XP changes) to open dashboards.

  doubtline serve                          Start the server
  doubtline chat --room doubt-42           Join a room from the terminal
  doubtline token --user stu-1 --name Ann  Mint a development token`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ./config.yaml or $DOUBTLINE_CONFIG_DEFAULT_PATH/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log level (trace, debug, info, warn, error)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
