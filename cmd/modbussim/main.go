// Package main provides the modbussim command: a Modbus TCP/RTU server
// simulator backed by an in-memory register store.
package main

import (
	"fmt"
	"os"
)

var version = "1.0.0"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
