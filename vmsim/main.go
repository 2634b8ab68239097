// Package main provides vmsim, a command-line tool that runs synthetic
// workloads on the demand-paged memory system.
package main

import "github.com/sarchlab/vmpaging/vmsim/cmd"

func main() {
	cmd.Execute()
}
