package main

import (
	"os"

	"github.com/blacktop/reelpost/cmd"
	"github.com/blacktop/reelpost/internal/logutil"
)

func main() {
	if err := cmd.Execute(); err != nil {
		logutil.Errorf("%v", err)
		os.Exit(1)
	}
}
