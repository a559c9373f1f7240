// slnfix keeps a project's solution file and project files consistent.
// It runs as a per-project daemon that watches the project root and fixes
// offending files in place.
package main

import (
	"os"

	"github.com/corey/slnfix/cmd/slnfix/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
