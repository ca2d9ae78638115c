package main

import (
	"os"

	"oobind/cmd/bindctl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
