// Command recordfetch fetches records through a configured adapter into a
// local record store.
package main

import (
	"os"

	"github.com/kilupskalvis/recordfetch/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
