// Command kesd runs a KES kernel as a long-lived process.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "kesd:", err)
		os.Exit(1)
	}
}
