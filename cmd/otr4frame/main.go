package main

import (
	"os"

	"github.com/stalker-loki/braceratchet/cmd/otr4frame/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
