// Command grammarcheck runs the Vartalaap grammar pipeline from the terminal.
package main

import (
	"os"

	"github.com/vartalaap/vartalaap/cmd/grammarcheck/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
