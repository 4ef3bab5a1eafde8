// Package main provides the entry point for the kbretrieve CLI.
package main

import (
	"os"

	"github.com/Aman-CERP/kbretrieve/cmd/kbretrieve/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
