// Command pdvault administers a local personal data vault: it writes the
// config file, creates accounts, lists roles and audits the ledger chains.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
