// Command itemctl operates on Data API items from the command line.
//
// Configuration comes from flags, DATAAPI_* environment variables, .env
// files and an optional config file, in that order of precedence.
package main

import (
	"context"
	"fmt"
	"os"
)

func main() {
	cmd := newRootCmd()
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitCode(err))
	}
}
