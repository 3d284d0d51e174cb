package main

import (
	"os"

	"github.com/yudha/arus/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
