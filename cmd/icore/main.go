package main

import (
	"fmt"
	"os"

	"github.com/icore-platform/icore/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "icore: %v\n", err)
		os.Exit(1)
	}
}
