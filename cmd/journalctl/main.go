// Command journalctl runs maintenance tasks against the journal's store:
// schema migrations, weekly reviews and development tokens.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
