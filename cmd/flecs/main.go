// Command flecs runs observer notification scenarios and inspects their
// recorded traces.
package main

import (
	"fmt"
	"os"

	"github.com/benjamind/flecs/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		if !cli.IsReported(err) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(cli.GetExitCode(err))
	}
}
