package cli

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/kilupskalvis/recordfetch/internal/store"
	"github.com/spf13/cobra"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or clear the on-disk record cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cached record counts and since tokens",
	Args:  cobra.NoArgs,
	Run:   runCacheStats,
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete the record cache file",
	Args:  cobra.NoArgs,
	Run:   runCacheClear,
}

func init() {
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheClearCmd)
}

func runCacheStats(cmd *cobra.Command, args []string) {
	cfg, registry, _ := initConfig()
	p := cfg.CachePath()
	if p == "" {
		exitError("record cache is disabled")
	}
	if _, err := os.Stat(p); os.IsNotExist(err) {
		fmt.Println("Record cache is empty.")
		return
	}

	cache, err := store.OpenBoltCache(p)
	if err != nil {
		exitError("failed to open record cache: %v", err)
	}
	defer cache.Close()

	counts, err := cache.Stats()
	if err != nil {
		cache.Close()
		exitError("failed to read record cache: %v", err)
	}
	fmt.Printf("Cache: %s\n\n", p)
	printCounts("Records", counts)

	fmt.Println()
	color.New(color.Bold).Println("Since tokens")
	for _, name := range registry.Names() {
		token, err := cache.GetValue(sinceKeyPrefix + name)
		if err != nil {
			cache.Close()
			exitError("failed to read since token: %v", err)
		}
		if token == "" {
			token = "-"
		}
		fmt.Printf("  %-20s %s\n", name, token)
	}
}

func runCacheClear(cmd *cobra.Command, args []string) {
	cfg, _, _ := initConfig()
	p := cfg.CachePath()
	if p == "" {
		exitError("record cache is disabled")
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		exitError("failed to remove record cache: %v", err)
	}
	color.New(color.FgGreen).Printf("Removed %s\n", p)
}
