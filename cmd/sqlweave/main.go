// Package main is the sqlweave command.
package main

import (
	"os"

	"github.com/leapstack-labs/sqlweave/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
