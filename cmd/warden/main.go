package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "warden",
	Short: "Admission control for autonomous agents",
	Long:  "Warden sits in front of a fleet of autonomous agents and decides, per action, whether an agent may proceed. It checks the kill switch, lifecycle state, rate limits, resource budgets, trust scores and a safety screen, with mutual authentication and portable trust credentials on top.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: configs/warden.yaml)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
