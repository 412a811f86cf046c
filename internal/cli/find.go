package cli

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/kilupskalvis/recordfetch/internal/store"
	"github.com/spf13/cobra"
)

var findReload bool

var findCmd = &cobra.Command{
	Use:   "find <type> <id>",
	Short: "Fetch one record",
	Long: `Fetch one record by type and id. A record already in the cache is
printed without contacting the adapter unless --reload is given.`,
	Args: cobra.ExactArgs(2),
	Run:  runFind,
}

var findManyCmd = &cobra.Command{
	Use:   "find-many <type> <id>...",
	Short: "Fetch several records of one type in a single request",
	Args:  cobra.MinimumNArgs(2),
	Run:   runFindMany,
}

var findAllCmd = &cobra.Command{
	Use:   "find-all <type>",
	Short: "Refresh every record of a type",
	Long: `Refresh every record of a type. The since token saved by the previous
run is passed to the adapter so only changes are transferred.`,
	Args: cobra.ExactArgs(1),
	Run:  runFindAll,
}

var queryCmd = &cobra.Command{
	Use:   "query <type> [key=value...]",
	Short: "Fetch the records matching a query",
	Args:  cobra.MinimumNArgs(1),
	Run:   runQuery,
}

var relatedCmd = &cobra.Command{
	Use:   "related <type> <id> <relationship>",
	Short: "Fetch the records a relationship points at",
	Args:  cobra.ExactArgs(3),
	Run:   runRelated,
}

func init() {
	findCmd.Flags().BoolVar(&findReload, "reload", false, "Fetch even if the record is cached")
	for _, cmd := range []*cobra.Command{findCmd, findManyCmd, findAllCmd, queryCmd, relatedCmd} {
		cmd.Flags().BoolVar(&outputJSON, "json", false, "Print records as JSON lines")
	}
}

func runFind(cmd *cobra.Command, args []string) {
	c := initContext()
	defer c.Close()

	var rec *store.Record
	var err error
	if findReload {
		rec, err = c.Fetcher.ReloadRecord(context.Background(), args[0], args[1])
	} else {
		rec, err = c.Fetcher.FindRecord(context.Background(), args[0], args[1])
	}
	if err != nil {
		c.Close()
		exitError("%v", err)
	}
	printRecords([]*store.Record{rec})
}

func runFindMany(cmd *cobra.Command, args []string) {
	c := initContext()
	defer c.Close()

	records, err := c.Fetcher.FindRecords(context.Background(), args[0], args[1:])
	if err != nil {
		c.Close()
		exitError("%v", err)
	}
	printRecords(records)
}

func runFindAll(cmd *cobra.Command, args []string) {
	c := initContext()
	defer c.Close()

	arr, err := c.Fetcher.FindAll(context.Background(), args[0])
	if err != nil {
		c.Close()
		exitError("%v", err)
	}
	printRecords(arr.Records())
	if !outputJSON {
		summary(arr)
	}
}

func runQuery(cmd *cobra.Command, args []string) {
	query, err := parseQuery(args[1:])
	if err != nil {
		exitError("%v", err)
	}

	c := initContext()
	defer c.Close()

	arr, err := c.Fetcher.Query(context.Background(), args[0], query)
	if err != nil {
		c.Close()
		exitError("%v", err)
	}
	printRecords(arr.Records())
	if !outputJSON {
		summary(arr)
	}
}

func runRelated(cmd *cobra.Command, args []string) {
	c := initContext()
	defer c.Close()
	ctx := context.Background()

	owner, err := c.Fetcher.FindRecord(ctx, args[0], args[1])
	if err != nil {
		c.Close()
		exitError("%v", err)
	}
	records, err := c.Fetcher.FindRelated(ctx, owner, args[2])
	if err != nil {
		c.Close()
		exitError("%v", err)
	}
	if len(records) == 0 && !outputJSON {
		fmt.Printf("%s %s has no %s\n", owner.Type(), owner.ID(), args[2])
		return
	}
	printRecords(records)
}

func summary(arr *store.RecordArray) {
	fmt.Println()
	color.New(color.FgGreen).Printf("%d %s record(s)", arr.Len(), arr.Type())
	if !arr.UpdatedAt().IsZero() {
		fmt.Printf(", updated %s", arr.UpdatedAt().Format("15:04:05"))
	}
	fmt.Println()
}
