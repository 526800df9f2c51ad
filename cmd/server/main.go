// Command server runs the PHP application server: static resources are
// answered by the caching pipeline, everything else by PHP workers.
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
