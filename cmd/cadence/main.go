// Command cadence plays, inspects and generates audio/video clips.
package main

import (
	"os"
)

var version = "dev"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
