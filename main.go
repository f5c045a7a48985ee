package main

import (
	"os"

	"pideck/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
