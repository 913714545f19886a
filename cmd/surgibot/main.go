// Package main is the entry point for the surgibot command: the
// operating-room status board server and its terminal client.
package main

import (
	"os"

	"github.com/opdacuont2563-hash/surgibot/cmd/surgibot/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
