package main

import (
	"os"

	"github.com/Kocoro-lab/Shannon/go/legalqa/cmd/legalctl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
