package main

import (
	"fmt"
	"os"

	"github.com/cursorrunner/cursor-runner/internal/servercli"
)

func main() {
	if err := servercli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
