// Command dblinkctl drives the DBLink relation-graph and JSONL
// materialization pipeline: one subcommand per pipeline step, each run
// under its own coordinated run log, exiting non-zero on step failure
// (spec.md §6).
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "dblinkctl:", err)
		os.Exit(1)
	}
}
