// Package main is the single-binary entrypoint for the inference
// gateway daemon and its operational CLI.
package main

import "github.com/tutu-network/inferencegate/internal/cli"

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cli.Execute(version)
}
