package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/mlecomte/qrtrack/cmd"
	"github.com/mlecomte/qrtrack/internal/apperrors"
	"github.com/spf13/cobra"
)

// StatsCmd prints scan statistics for a tracking code.
var StatsCmd = &cobra.Command{
	Use:   "stats [code]",
	Short: "Show scan statistics for a tracking code",
	Args:  cobra.ExactArgs(1),
	Run:   runStats,
}

func init() {
	cmd.RootCmd.AddCommand(StatsCmd)
}

func runStats(cobraCmd *cobra.Command, args []string) {
	code := args[0]

	cfg, db := openDatabase()
	sqlDB, err := db.DB()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to get underlying SQL database: %v\n", err)
		os.Exit(1)
	}
	defer sqlDB.Close()

	linkService := buildService(cfg, db)
	link, events, err := linkService.GetLinkStats(context.Background(), code)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			fmt.Printf("Error: tracking code '%s' not found\n", code)
		} else {
			fmt.Printf("Error retrieving statistics: %v\n", err)
		}
		os.Exit(1)
	}

	fmt.Printf("Statistics for tracking code: %s\n", code)
	fmt.Printf("Destination URL: %s\n", link.DestinationURL)
	fmt.Printf("Access count: %d\n", link.AccessCount)
	fmt.Printf("Recorded scan events: %d\n", events)
	if link.LastAccessedAt != nil {
		fmt.Printf("Last accessed: %s\n", link.LastAccessedAt.Format("2006-01-02 15:04:05"))
	}
	fmt.Printf("Created: %s\n", link.CreatedAt.Format("2006-01-02 15:04:05"))
}
