// The main package for the anvesha crawler executable.
package main

import (
	"github.com/shreyas-bk24/anvesha-crawler/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
