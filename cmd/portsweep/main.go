// Command portsweep scans a subnet for open TCP ports.
package main

import "github.com/anstrom/portsweep/cmd/cli"

// Set by ldflags during build.
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

func main() {
	cli.SetVersion(version, commit, buildTime)
	cli.Execute()
}
