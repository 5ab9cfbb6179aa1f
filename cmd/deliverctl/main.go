package main

import (
	"os"

	"github.com/austindbirch/grpc_deliver/cmd/deliverctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
