package cli

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/kilupskalvis/recordfetch/internal/config"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter recordfetch.toml",
	Long: `Write a starter recordfetch.toml in the current directory. It declares a
small post/person/comment model and points the HTTP adapter at --url.`,
	Args: cobra.NoArgs,
	Run:  runInit,
}

var initURL string

func init() {
	initCmd.Flags().StringVar(&initURL, "url", "http://localhost:8730", "Server URL for the HTTP adapter")
}

func runInit(cmd *cobra.Command, args []string) {
	cwd, err := os.Getwd()
	if err != nil {
		exitError("%v", err)
	}
	if p, err := config.FindConfig(cwd); err == nil {
		exitError("config already exists at %s", p)
	}

	cfg, err := config.Initialize(cwd, initURL)
	if err != nil {
		exitError("failed to initialize config: %v", err)
	}

	color.New(color.FgGreen).Printf("Wrote %s\n", config.ConfigFile)
	fmt.Printf("Adapter: %s %s\n", cfg.Adapter.Kind, cfg.Adapter.URL)
	if p := cfg.CachePath(); p != "" {
		fmt.Printf("Record cache: %s\n", p)
	}
	fmt.Printf("\nRun 'recordfetch sync' to load every declared type.\n")
}
