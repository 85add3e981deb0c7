package main

import (
	"os"

	"github.com/vampirenirmal/novelist/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
