// Package main provides the entry point for the learnsearch CLI.
package main

import (
	"fmt"
	"os"

	"github.com/Aman-CERP/learnsearch/cmd/learnsearch/cmd"
	lserrors "github.com/Aman-CERP/learnsearch/internal/errors"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprint(os.Stderr, lserrors.FormatForCLI(err))
		os.Exit(1)
	}
}
