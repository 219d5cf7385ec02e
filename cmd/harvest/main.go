package main

import (
	"fmt"
	"os"

	"github.com/openobs/harvest/pkg/agent"
)

func main() {
	if err := agent.NewCLI().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
