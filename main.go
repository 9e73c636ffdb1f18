// The main package for the sitecrawler executable.
package main

import (
	"github.com/coreindex/sitecrawler/cmd"
)

// main is the entry point of the application.
// It defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}
