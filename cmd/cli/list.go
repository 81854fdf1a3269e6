package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/mlecomte/qrtrack/cmd"
	"github.com/mlecomte/qrtrack/internal/repository"
	"github.com/spf13/cobra"
)

var (
	listSearchFlag   string
	listRefFlag      string
	listMinScansFlag uint64
	listSortFlag     string
	listPageFlag     int
)

// ListCmd prints one page of tracking links.
var ListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tracking links",
	Run: func(cobraCmd *cobra.Command, args []string) {
		cfg, db := openDatabase()
		sqlDB, err := db.DB()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to get underlying SQL database: %v\n", err)
			os.Exit(1)
		}
		defer sqlDB.Close()

		linkService := buildService(cfg, db)
		filter := repository.ListFilter{
			Search:       listSearchFlag,
			ReferralCode: listRefFlag,
			MinScans:     listMinScansFlag,
		}
		links, total, err := linkService.ListLinks(context.Background(), filter, listSortFlag, "asc", listPageFlag, 20)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to list links: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%-6s %-10s %-12s %-40s %s\n", "ID", "CODE", "SCANS", "DESTINATION", "NAME")
		for _, link := range links {
			fmt.Printf("%-6d %-10s %-12d %-40s %s\n",
				link.ID, link.Code, link.AccessCount, link.DestinationURL, link.CommonName)
		}
		fmt.Printf("Total: %d\n", total)
	},
}

func init() {
	ListCmd.Flags().StringVar(&listSearchFlag, "q", "", "Free-text search over name/destination/code")
	ListCmd.Flags().StringVar(&listRefFlag, "ref", "", "Exact referral code")
	ListCmd.Flags().Uint64Var(&listMinScansFlag, "min-scans", 0, "Minimum scan count")
	ListCmd.Flags().StringVar(&listSortFlag, "sort", "id", "Sort column")
	ListCmd.Flags().IntVar(&listPageFlag, "page", 1, "Page (1-indexed)")

	cmd.RootCmd.AddCommand(ListCmd)
}
