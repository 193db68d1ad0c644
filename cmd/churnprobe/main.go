// Command churnprobe measures record churn in a DHT.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/churnprobe/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.ExitCode(err))
	}
}
