// The main package for the campus-crawler executable.
package main

import (
	"github.com/JakeFAU/campus-crawler/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
