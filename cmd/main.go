package main

// Entry point of ernie-graphs
// Runs the Cobra commands and exits non-zero on any error

import (
	"fmt"
	"os"

	"ernie-graphs/cmd/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
