package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration and every knob definition",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "config is valid (%d knobs)\n", len(cfg.Knobs))
		return nil
	},
}

var defaultsCmd = &cobra.Command{
	Use:   "defaults",
	Short: "Print the built-in configuration as YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := yaml.Marshal(DefaultConfig())
		if err != nil {
			return fmt.Errorf("encode defaults: %w", err)
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(defaultsCmd)
}
