// Command ferry transfers repository subtrees between ferry nodes.
package main

import (
	"os"

	"github.com/custodia-labs/ferry/internal/adapters/driving/cli"
	"github.com/custodia-labs/ferry/internal/logger"
)

// Set by the build.
var version = "dev"

func main() {
	cli.SetVersion(version)
	err := cli.Execute()
	_ = logger.Sync()
	if err != nil {
		os.Exit(1)
	}
}
