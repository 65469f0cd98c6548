package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var configPath = "config.yaml"

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "sdnproxy",
	Short: "SDN proxy ARP/NDP and inter-domain forwarding controller",
	Long: `sdnproxy is the decision core of an SDN controller application.
It answers ARP and NDP on behalf of known hosts, bridges local traffic, installs inter-domain paths and keeps BGP gateway sessions connected.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func logLevel(cmd *cobra.Command) slog.Level {
	if ok, _ := cmd.Flags().GetBool("verbose"); ok {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

func init() {
	rootCmd.AddGroup(&cobra.Group{
		ID:    "config",
		Title: "Configuration",
	})
	rootCmd.AddGroup(&cobra.Group{
		ID:    "engine",
		Title: "Engine Commands",
	})
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", configPath, "controller config")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")
}
