// modelctl downloads, validates and installs model files.
package main

import (
	"fmt"
	"os"

	"github.com/burncloud/model-installer/cmd/modelctl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(commands.ExitCode(err))
	}
}
