package main

import (
	"fmt"
	"os"

	"github.com/dalemusser/askaway/internal/ctl"
)

func main() {
	if err := ctl.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
