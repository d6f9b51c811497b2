package main

import (
	"os"

	"github.com/hookmill/hookmill/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
