// Package main is the entry point for Custodian, the Open Cloud Ops backup
// compliance and SLA monitor.
package main

import (
	"fmt"
	"os"

	"github.com/bigdegenenergy/open-cloud-ops/custodian/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
