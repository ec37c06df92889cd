// Package main is the single-binary entrypoint for secfleet.
package main

import "github.com/secfleet/secfleet/internal/cli"

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cli.Execute(version)
}
