// Command hq runs the autonomous worker orchestration engine.
package main

import "github.com/aristath/hq/internal/cli"

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cli.Execute(version)
}
