// Package main provides refmap-soak, a long-running workload that
// exercises a weak- or soft-valued refmap.Map and serves its statistics
// as Prometheus metrics.
//
// Usage:
//
//	refmap-soak --config soak.yaml
//	refmap-soak --duration 10m --value-strength soft --soft-limit 268435456
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := app().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
