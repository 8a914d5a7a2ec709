//go:build !linux || tinygo

package main

import (
	"fmt"
	"os"
)

func main() {
	fmt.Fprintln(os.Stderr, "adcmon needs /dev/mem and runs on Linux only")
	os.Exit(1)
}
