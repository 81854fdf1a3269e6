package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/glebarez/sqlite"
	"github.com/mlecomte/qrtrack/cmd"
	"github.com/mlecomte/qrtrack/internal/config"
	"github.com/mlecomte/qrtrack/internal/repository"
	"github.com/mlecomte/qrtrack/internal/schema"
	"github.com/mlecomte/qrtrack/internal/services"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

var (
	destinationFlag string
	nameFlag        string
	referralFlag    string
)

// CreateCmd creates a tracking link from the command line.
var CreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a tracking link for a destination URL.",
	Long: `Creates a tracking link and prints its code and tracking URL.

Example:
  qrtrack create --url="https://example.com/launch" --name="Launch page"`,
	Run: func(cobraCmd *cobra.Command, args []string) {
		if destinationFlag == "" {
			fmt.Println("Error: --url flag is required")
			os.Exit(1)
		}

		cfg, db := openDatabase()
		sqlDB, err := db.DB()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to get underlying SQL database: %v\n", err)
			os.Exit(1)
		}
		defer sqlDB.Close()

		linkService := buildService(cfg, db)
		link, err := linkService.CreateLink(context.Background(), services.CreateParams{
			DestinationURL: destinationFlag,
			CommonName:     nameFlag,
			ReferralCode:   referralFlag,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to create tracking link: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Tracking link created:\n")
		fmt.Printf("Code: %s\n", link.Code)
		fmt.Printf("Tracking URL: %s\n", linkService.TrackingURL(link.Code))
	},
}

// openDatabase loads config and opens the sqlite store, ensuring the schema
// first so CLI commands work against a fresh database file.
func openDatabase() (*config.Config, *gorm.DB) {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	db, err := gorm.Open(sqlite.Open(cfg.Database.Name), &gorm.Config{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	if err := schema.NewGuardian(db).Ensure(); err != nil {
		fmt.Fprintf(os.Stderr, "schema guardian failed: %v\n", err)
		os.Exit(1)
	}
	return cfg, db
}

// buildService wires a cache-less service for one-shot CLI use.
func buildService(cfg *config.Config, db *gorm.DB) *services.LinkService {
	linkRepo := repository.NewLinkRepository(db)
	scanRepo := repository.NewScanRepository(db)
	return services.NewLinkService(linkRepo, scanRepo, nil, nil, nil, services.Options{
		BaseURL:    cfg.Server.BaseURL,
		PrettyURLs: cfg.Server.PrettyURLs,
	})
}

func init() {
	CreateCmd.Flags().StringVar(&destinationFlag, "url", "", "Destination URL to track")
	CreateCmd.Flags().StringVar(&nameFlag, "name", "", "Optional common name")
	CreateCmd.Flags().StringVar(&referralFlag, "ref", "", "Optional referral code")
	CreateCmd.MarkFlagRequired("url")

	cmd.RootCmd.AddCommand(CreateCmd)
}
