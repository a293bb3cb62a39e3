// The main package for the thumbnailer executable.
package main

import (
	"github.com/JakeFAU/site-thumbnailer/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
