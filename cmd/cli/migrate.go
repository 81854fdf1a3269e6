package cli

import (
	"fmt"
	"os"

	"github.com/glebarez/sqlite"
	"github.com/mlecomte/qrtrack/cmd"
	"github.com/mlecomte/qrtrack/internal/config"
	"github.com/mlecomte/qrtrack/internal/schema"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

// MigrateCmd runs the schema guardian on demand. The same check runs at
// server startup; this command exists for deployments that migrate
// explicitly before rolling the server.
var MigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run the additive schema migration.",
	Long: `Connects to the configured SQLite database and runs the schema guardian:
missing tables are created and missing columns are added. Existing structure
is never dropped or renamed.`,
	Run: func(cobraCmd *cobra.Command, args []string) {
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
		sqlDB, err := db.DB()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to get underlying SQL database: %v\n", err)
			os.Exit(1)
		}
		defer sqlDB.Close()

		if err := schema.NewGuardian(db).Ensure(); err != nil {
			fmt.Fprintf(os.Stderr, "migration failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Schema migration completed.")
	},
}

func init() {
	cmd.RootCmd.AddCommand(MigrateCmd)
}
