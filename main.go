package main

import (
	"fmt"
	"os"

	"github.com/openwalk/bfind/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "bfind: %v\n", err)
		os.Exit(1)
	}
}
