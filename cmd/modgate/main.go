// Package main provides the modgate CLI: a validation gate that decides
// whether a generated code modification is safe to apply, backed by the
// same pipeline the library exposes.
package main

import (
	"errors"
	"fmt"
	"os"
)

// version is stamped at release time via ldflags; default stays dev for local builds.
var version = "0.0.0-dev"

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		var exit *exitError
		if errors.As(err, &exit) {
			os.Exit(exit.code)
		}
		fmt.Fprintln(os.Stderr, "modgate:", err)
		os.Exit(1)
	}
}
