// Package main provides the entry point for the mealrag CLI.
package main

import (
	"os"

	"github.com/nutrimind/mealrag/cmd/mealrag/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
