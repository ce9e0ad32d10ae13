package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/reel/am"
	"github.com/teranos/reel/db"
	"github.com/teranos/reel/housekeeping"
	"github.com/teranos/reel/sym"
)

// DbCmd represents the db (database) command
var DbCmd = &cobra.Command{
	Use:   "db",
	Short: sym.DB + " Manage the job database",
	Long: sym.DB + ` db: Manage the job database

Examples:
  reel db migrate     # Apply pending migrations
  reel db stats       # Show job counts and applied migrations`,
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending migrations",
	RunE:  runDbMigrate,
}

var dbStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show job counts by status",
	RunE:  runDbStats,
}

func init() {
	DbCmd.AddCommand(dbMigrateCmd)
	DbCmd.AddCommand(dbStatsCmd)
}

func runDbMigrate(cmd *cobra.Command, args []string) error {
	// openStore migrates on connect
	_, conn, _, err := openStore(context.Background())
	if err != nil {
		return err
	}
	defer conn.Close()

	versions, err := db.AppliedVersions(conn)
	if err != nil {
		return err
	}
	pterm.Success.Printfln("%s Schema up to date (%d migrations: %s)", sym.DB, len(versions), strings.Join(versions, ", "))
	return nil
}

func runDbStats(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	cfg, conn, store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	snap, err := housekeeping.Sample(ctx, store, nil)
	if err != nil {
		return err
	}
	versions, err := db.AppliedVersions(conn)
	if err != nil {
		return err
	}

	fmt.Printf("%s Database Statistics\n", sym.DB)
	fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")
	if cfg.Database.Driver == am.DriverPostgres {
		fmt.Printf("Driver:      postgres\n")
	} else {
		fmt.Printf("Database:    %s\n", cfg.GetDatabasePath())
	}
	fmt.Printf("Migrations:  %d\n", len(versions))
	fmt.Printf("Processing:  %d\n", snap.Processing)
	fmt.Printf("Completed:   %d\n", snap.Completed)
	fmt.Printf("Failed:      %d\n", snap.Failed)
	if snap.MemoryTotalGB > 0 {
		fmt.Printf("Host memory: %.1f / %.1f GB (%.0f%%)\n", snap.MemoryUsedGB, snap.MemoryTotalGB, snap.MemoryPercent)
	}
	return nil
}
