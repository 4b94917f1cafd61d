package main

import (
	"os"

	"github.com/ravik/senna/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
