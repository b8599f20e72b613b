// ia-get downloads files from Internet Archive items: concurrent,
// resumable, with MD5 verification and optional decompression.
package main

import (
	"fmt"
	"os"

	"github.com/ia-tools/ia-get/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
