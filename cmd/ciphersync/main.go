package main

import (
	"os"

	"ciphersync/cmd/ciphersync/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
