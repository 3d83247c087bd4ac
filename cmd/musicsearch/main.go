package main

import (
	"os"

	"musicdiscovery/searchcore/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
