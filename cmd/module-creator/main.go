package main

import (
	"os"

	"github.com/spherical/module-creator/cmd/module-creator/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
