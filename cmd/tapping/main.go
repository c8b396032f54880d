package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var noColor bool

var rootCmd = &cobra.Command{
	Use:           "tapping",
	Short:         "Scan business cards, QR codes and tags into a local contact book",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(tagCmd)
	rootCmd.AddCommand(contactsCmd)
	rootCmd.AddCommand(profilesCmd)
	rootCmd.AddCommand(configCmd)

	if os.Getenv("NO_COLOR") != "" {
		noColor = true
	}
	rootCmd.SetVersionTemplate(fmt.Sprintf("tapping version %s\n", version))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}
