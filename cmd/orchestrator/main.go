// Command orchestrator is the single-binary entrypoint for the maker
// assistant's local inference orchestrator.
package main

import "github.com/kitty-ai/orchestrator/internal/cli"

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cli.Execute(version)
}
