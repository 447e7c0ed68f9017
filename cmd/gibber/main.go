package main

import (
	"os"

	"github.com/sserrano44/GibberWallet/cmd/gibber/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
