// Command reviewer runs the product review pipeline.
package main

import (
	"github.com/JakeFAU/agentic-reviewer/cmd"
)

func main() {
	cmd.Execute()
}
