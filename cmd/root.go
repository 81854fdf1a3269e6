package cmd

import (
	"fmt"
	"log"
	"os"

	"github.com/mlecomte/qrtrack/internal/config"
	"github.com/spf13/cobra"
)

// Cfg holds the loaded configuration, populated before any subcommand runs.
var Cfg *config.Config

// RootCmd is the base command. Subcommands (run-server, create, stats,
// list, migrate) register themselves via their own init() functions to keep
// the packages decoupled.
var RootCmd = &cobra.Command{
	Use:   "qrtrack",
	Short: "A QR tracking-link service",
	Long: `qrtrack issues short tracking codes that redirect to destination URLs,
counts scans, and generates cacheable QR-code images for each tracking URL.`,
}

// Execute is the entry point called from main.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error executing command: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
}

func initConfig() {
	var err error
	Cfg, err = config.LoadConfig()
	if err != nil {
		log.Printf("Warning: problem loading configuration: %v. Using default values.", err)
	}
}
