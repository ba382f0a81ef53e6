package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

// ============================================================================
// knobctl - Command-line IPC Client
// ============================================================================
// Sends events to a running knobd over its Unix domain socket.
//
// Usage:
//   knobctl status [knob]
//   knobctl confirm kitchen
//   knobctl cancel kitchen
//   knobctl set thermostat 22
//   knobctl set kitchen HIGH
//   knobctl enable|disable bedroom
//   knobctl turn bedroom -2
// ============================================================================

var (
	socketPath string
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:          "knobctl",
	Short:        "Control a running knobd over IPC",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&socketPath, "socket", "s", "/tmp/knobd.sock", "Unix domain socket path")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print the raw daemon response")

	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "status [knob]",
			Short: "Show knob state",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				data := map[string]any{}
				if len(args) == 1 {
					data["knob"] = args[0]
				}
				return run(cmd, "request_snapshot", data)
			},
		},
		&cobra.Command{
			Use:   "confirm <knob>",
			Short: "Commit the pending step",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return run(cmd, "confirm", map[string]any{"knob": args[0]})
			},
		},
		&cobra.Command{
			Use:   "cancel <knob>",
			Short: "Drop the pending step",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return run(cmd, "cancel_pending", map[string]any{"knob": args[0]})
			},
		},
		&cobra.Command{
			Use:   "set <knob> <value>",
			Short: "Set the committed value (a number or a step id)",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return run(cmd, "set_value", map[string]any{"knob": args[0], "value": parseValue(args[1])})
			},
		},
		&cobra.Command{
			Use:   "enable <knob>",
			Short: "Enable a knob",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return run(cmd, "set_enabled", map[string]any{"knob": args[0], "enabled": true})
			},
		},
		&cobra.Command{
			Use:   "disable <knob>",
			Short: "Disable a knob",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return run(cmd, "set_enabled", map[string]any{"knob": args[0], "enabled": false})
			},
		},
		&cobra.Command{
			Use:   "turn <knob> <detents>",
			Short: "Simulate rotary encoder detents (negative = counter-clockwise)",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				steps, err := strconv.Atoi(args[1])
				if err != nil {
					return fmt.Errorf("invalid detent count %q: %w", args[1], err)
				}
				return run(cmd, "rotary_turn", map[string]any{"knob": args[0], "steps": steps})
			},
		},
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// parseValue sends numbers as JSON numbers and anything else as a step id.
func parseValue(s string) any {
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

func run(cmd *cobra.Command, typ string, data any) error {
	resp, err := sendEvent(socketPath, typ, data)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}
	printResponse(out, resp)
	if resp.Status == "error" {
		return fmt.Errorf("daemon error: %s", resp.Error)
	}
	return nil
}
