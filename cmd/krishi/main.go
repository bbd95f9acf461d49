// Command krishi serves the farming assistant API and offers the same
// features from the terminal.
package main

import (
	"context"
	"os"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run(context.Background(), NewRootCommand(), os.Stderr))
}
