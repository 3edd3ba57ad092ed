package main

import (
	"fmt"
	"os"

	"github.com/zjy-dev/lcov-capture/cmd/lcov-capture/app"
)

func main() {
	if err := app.NewCaptureCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
