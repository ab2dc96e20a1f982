package main

import (
	"os"

	"github.com/blacktop/snspost/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
