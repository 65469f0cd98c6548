package cmd

import (
	"fmt"

	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"
	"github.com/winlab/sdnproxy/state"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Validates the config and prints it with defaults applied",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := state.ReadConfig(configPath)
		if err != nil {
			return err
		}
		cfgYaml, err := yaml.Marshal(cfg)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Config is valid")
		fmt.Fprint(cmd.OutOrStdout(), string(cfgYaml))
		return nil
	},
	GroupID: "config",
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}
