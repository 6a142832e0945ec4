// File path: cmd/excavator/main.go
package main

import (
	"fmt"
	"os"

	"github.com/excavator-project/excavator/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "excavator: %v\n", err)
		os.Exit(cli.ExitCode(err))
	}
}
