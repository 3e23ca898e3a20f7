package main

import (
	"os"

	"github.com/mlowell/clinops/pkg/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
