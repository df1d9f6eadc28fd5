// gateway bridges homebase experiment controllers, browser clients and the
// shared Postgres store (spec.md §1).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Fleet gateway: homebase links, reachability probing, browser bridge",
}

func main() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "optional YAML config file overlay")
	rootCmd.AddCommand(runCmd, addDeviceCmd, tokenCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
