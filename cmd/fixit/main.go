// Command fixit turns tagged GitHub issues into pull requests.
package main

import (
	"os"

	"github.com/fixit-bot/fixit/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
