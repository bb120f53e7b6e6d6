// Command approvalsctl runs one-shot review engine operations against the
// configured platform: schema discovery diagnostics, listing, summaries and
// schema cache invalidation.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand(defaultEngineFactory).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
