package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const version = "1.0.0"

var rootCmd = &cobra.Command{
	Use:   "knobd",
	Short: "knobd hosts rotary knob controllers",
	Long: `knobd runs the rotary knob input controllers for an appliance panel: it turns
pointer drags (WebSocket), rotary encoders (evdev), IPC and HTTP requests into
committed knob values, and fans the results out to clients, metrics and Redis.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to YAML config file (defaults to the built-in sample knobs)")
}

func main() {
	Execute()
}

// loadConfig returns the built-in defaults or the config file named by --config.
func loadConfig(cmd *cobra.Command) (Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		return DefaultConfig(), nil
	}
	return LoadConfigFile(path)
}
