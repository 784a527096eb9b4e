package main

import (
	"os"
)

// Version 构建时注入
var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
