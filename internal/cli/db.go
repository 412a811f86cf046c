package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/kilupskalvis/recordfetch/internal/config"
	"github.com/kilupskalvis/recordfetch/internal/localdb"
	"github.com/spf13/cobra"
)

var dbPath string

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the SQLite resource database",
	Long: `Manage the SQLite database read by the sqlite adapter and served by
recordfetch-server.`,
}

var dbImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Load a JSON fixture file into the database",
	Long: `Load a JSON fixture file of the form {"posts": [{"id": "1", ...}], ...}
into the database. Existing resources with the same type and id are replaced.`,
	Args: cobra.ExactArgs(1),
	Run:  runDBImport,
}

var dbStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show resource counts and the current revision",
	Args:  cobra.NoArgs,
	Run:   runDBStats,
}

func init() {
	dbCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Database file (default: adapter.database from the config)")
	dbCmd.AddCommand(dbImportCmd)
	dbCmd.AddCommand(dbStatsCmd)
}

func openDB(cfg *config.Config) *localdb.DB {
	p := dbPath
	if p == "" {
		p = cfg.Resolve(cfg.Adapter.Database)
	}
	if p == "" {
		exitError("no database given; pass --db or set adapter.database")
	}
	db, err := localdb.Open(p)
	if err != nil {
		exitError("%v", err)
	}
	return db
}

func runDBImport(cmd *cobra.Command, args []string) {
	cfg, registry, _ := initConfig()
	db := openDB(cfg)
	defer db.Close()

	f, err := os.Open(args[0])
	if err != nil {
		db.Close()
		exitError("%v", err)
	}
	defer f.Close()

	ctx := context.Background()
	n, err := db.Import(ctx, f, registry)
	if err != nil {
		db.Close()
		exitError("import failed: %v", err)
	}
	rev, err := db.Revision(ctx)
	if err != nil {
		db.Close()
		exitError("%v", err)
	}
	color.New(color.FgGreen).Printf("Imported %d resource(s)", n)
	fmt.Printf(", revision %d\n", rev)
}

func runDBStats(cmd *cobra.Command, args []string) {
	cfg, _, _ := initConfig()
	db := openDB(cfg)
	defer db.Close()

	ctx := context.Background()
	counts, err := db.Count(ctx)
	if err != nil {
		db.Close()
		exitError("%v", err)
	}
	rev, err := db.Revision(ctx)
	if err != nil {
		db.Close()
		exitError("%v", err)
	}
	printCounts("Resources", counts)
	fmt.Printf("\nRevision: %d\n", rev)
}
