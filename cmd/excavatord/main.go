// File path: cmd/excavatord/main.go

// excavatord is the dedicated daemon entry point. It fixes environment
// and runtime parameters before any store or capability client is
// constructed; adapters read their configuration at construction time,
// so ordering matters here.
package main

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/joho/godotenv"

	"github.com/excavator-project/excavator/internal/cli"
	"github.com/excavator-project/excavator/internal/logging"
)

func main() {
	// Environment first: capability clients and store adapters read their
	// configuration at construction, so .env must be loaded before any of
	// them exists.
	_ = godotenv.Load()

	// Keep a long-running indexer from holding extraction peaks forever.
	debug.SetGCPercent(80)

	logging.Logger()
	os.Args = append([]string{os.Args[0], "serve"}, os.Args[1:]...)
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "excavatord: %v\n", err)
		os.Exit(cli.ExitCode(err))
	}
}
