// Package main は notepilot CLI のエントリーポイントです。
package main

import (
	"fmt"
	"os"

	"github.com/yourusername/notepilot/cmd/notepilot/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
