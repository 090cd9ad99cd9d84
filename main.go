package main

import (
	"os"

	"github.com/bounteer/jobsync/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
