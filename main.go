// The main package for the imagecheck executable.
package main

import (
	"github.com/JakeFAU/broken-image-crawler/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
