// Package main provides the appserver binary.
package main

import (
	"os"

	"github.com/sirosfoundation/go-appserver/cmd/appserver/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
