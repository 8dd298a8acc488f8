// Command mlrng derives substreams, executes sampling plans and inspects
// their event, trace and audit logs.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/mlrng/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
