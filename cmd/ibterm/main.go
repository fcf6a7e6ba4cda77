package main

import (
	"os"

	"github.com/GBurgardt/interactive-brokers/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
