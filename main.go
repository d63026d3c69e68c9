package main

import (
	"os"

	"github.com/jeeftor/vmcap/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
