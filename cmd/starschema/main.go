// Package main provides the CLI for starschema.
package main

import (
	"os"

	"github.com/leapstack-labs/starschema/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
