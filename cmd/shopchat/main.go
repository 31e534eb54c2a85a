package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "shopchat",
	Short: "Conversational shop assistant engine",
	Long: "shopchat drives bounded, multi-round exchanges between a model provider and\n" +
		"dynamically discovered shop tools, streaming results to clients over SSE.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (optional)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
